package webwx

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Response grammars for the text endpoints. None of these bodies are
// well-formed documents, so each parser locates only the tokens it needs.
//
//	jslogin:   window.QRLogin.code = 200; window.QRLogin.uuid = "<ticket>";
//	login:     window.code=<digits>;[\nwindow.redirect_uri="<uri>";]
//	newlogin:  <error><ret>0</ret>...<skey>..</skey><wxsid>..</wxsid>
//	           <wxuin>..</wxuin><pass_ticket>..</pass_ticket>...</error>
//	synccheck: window.synccheck={retcode:"<digits>",selector:"<digits>"}
var (
	ticketRe   = regexp.MustCompile(`uuid\s*=\s*"(.*?)"`)
	scanCodeRe = regexp.MustCompile(`code\s*=\s*(\d*)`)
	redirectRe = regexp.MustCompile(`redirect_uri\s*=\s*"(.*?)"`)
	retcodeRe  = regexp.MustCompile(`retcode\s*:\s*"(\d+)"`)
	selectorRe = regexp.MustCompile(`selector\s*:\s*"(\d+)"`)
)

func capture(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseLoginTicket extracts the login ticket (uuid) from a jslogin body.
func ParseLoginTicket(body string) (string, error) {
	ticket, ok := capture(ticketRe, body)
	if !ok || ticket == "" {
		return "", fmt.Errorf("%w: uuid", ErrMissingField)
	}
	return ticket, nil
}

type ScanStatus int

const (
	ScanPending ScanStatus = iota
	ScanScanned
	ScanConfirmed
	ScanExpired
)

func (s ScanStatus) String() string {
	switch s {
	case ScanPending:
		return "pending"
	case ScanScanned:
		return "scanned"
	case ScanConfirmed:
		return "confirmed"
	case ScanExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type ScanResult struct {
	Status      ScanStatus
	Code        string
	RedirectURI string
}

// ParseScanStatus classifies a login-check body.
//
//	408 or no code      pending
//	201                 scanned on the phone, not yet confirmed
//	200                 confirmed, redirect_uri present
//	400, 402, 500       expired or denied
//
// A 200 without a redirect URI cannot be followed and is reported as
// expired so the caller reissues the QR code.
func ParseScanStatus(body string) ScanResult {
	code, _ := capture(scanCodeRe, body)
	res := ScanResult{Code: code}

	switch code {
	case "200":
		res.RedirectURI, _ = capture(redirectRe, body)
		if res.RedirectURI == "" {
			res.Status = ScanExpired
			return res
		}
		res.Status = ScanConfirmed
	case "201":
		res.Status = ScanScanned
	case "400", "402", "500":
		res.Status = ScanExpired
	default:
		res.Status = ScanPending
	}
	return res
}

// InitCredentials is what the newlogin redirect hands back.
type InitCredentials struct {
	Ret        string
	SKey       string
	SID        string
	UIN        int64
	PassTicket string
}

// markupField returns the text between <name> and </name>.
func markupField(body, name string) (string, bool) {
	open := "<" + name + ">"
	start := strings.Index(body, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(body[start:], "</"+name+">")
	if end < 0 {
		return "", false
	}
	return html.UnescapeString(body[start : start+end]), true
}

// ParseInitMarkup token-scans the newlogin response for the credential
// triple and pass ticket. A present, non-zero <ret> rejects the login.
func ParseInitMarkup(body string) (InitCredentials, error) {
	var creds InitCredentials

	if ret, ok := markupField(body, "ret"); ok {
		creds.Ret = strings.TrimSpace(ret)
		if creds.Ret != "" && creds.Ret != "0" {
			msg, _ := markupField(body, "message")
			return creds, fmt.Errorf("%w: ret=%s %s", ErrInitRejected, creds.Ret, msg)
		}
	}

	fields := []struct {
		name string
		dst  *string
	}{
		{"skey", &creds.SKey},
		{"wxsid", &creds.SID},
		{"pass_ticket", &creds.PassTicket},
	}
	for _, f := range fields {
		v, ok := markupField(body, f.name)
		if !ok || v == "" {
			return creds, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		*f.dst = v
	}

	uin, ok := markupField(body, "wxuin")
	if !ok || uin == "" {
		return creds, fmt.Errorf("%w: wxuin", ErrMissingField)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(uin), 10, 64)
	if err != nil {
		return creds, fmt.Errorf("%w: wxuin %q", ErrMissingField, uin)
	}
	creds.UIN = n

	return creds, nil
}

const (
	RetcodeOK      = 0
	RetcodeInvalid = 1102
)

// SyncCheck is the outcome of one synccheck long poll. RetCode is -1 when
// the body carried no retcode.
type SyncCheck struct {
	RetCode  int
	Selector int
}

// HasMessages reports whether the server asked for a webwxsync.
func (c SyncCheck) HasMessages() bool {
	return c.RetCode == RetcodeOK
}

func (c SyncCheck) SessionInvalid() bool {
	return c.RetCode == RetcodeInvalid
}

func ParseSyncCheck(body string) SyncCheck {
	res := SyncCheck{RetCode: -1, Selector: -1}
	if v, ok := capture(retcodeRe, body); ok {
		if n, err := strconv.Atoi(v); err == nil {
			res.RetCode = n
		}
	}
	if v, ok := capture(selectorRe, body); ok {
		if n, err := strconv.Atoi(v); err == nil {
			res.Selector = n
		}
	}
	return res
}
