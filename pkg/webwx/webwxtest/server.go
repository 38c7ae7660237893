// Package webwxtest provides an in-process fake of the web protocol
// endpoints for tests.
package webwxtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const (
	Ticket       = "gY1bQ3-Xsw=="
	SelfUserName = "@self0001"
	SelfNickName = "wxclaw"
	UIN          = 2100123
	SKey         = "@crypt_2ff4_skey"
	SID          = "Qh0F/sid"
	PassTicket   = "pt%2Babc"
)

const cgi = "/cgi-bin/mmwebwx-bin"

// DefaultInitMarkup is a successful newlogin response.
var DefaultInitMarkup = fmt.Sprintf(
	`<error><ret>0</ret><message></message><skey>%s</skey><wxsid>%s</wxsid><wxuin>%d</wxuin><pass_ticket>%s</pass_ticket><isgrayscale>1</isgrayscale></error>`,
	SKey, SID, UIN, PassTicket,
)

// DefaultInitJSON is a successful webwxinit response with a two-entry
// baseline cursor.
var DefaultInitJSON = fmt.Sprintf(
	`{"BaseResponse":{"Ret":0,"ErrMsg":""},"User":{"Uin":%d,"UserName":%q,"NickName":%q,"HeadImgUrl":"/icon"},"SyncKey":{"Count":2,"List":[{"Key":1,"Val":100},{"Key":2,"Val":200}]}}`,
	UIN, SelfUserName, SelfNickName,
)

type Msg struct {
	ID      string
	From    string
	To      string
	Type    int
	Content string
}

// TextTo is a text message from peer to the fake's own identity.
func TextTo(id, from, content string) Msg {
	return Msg{ID: id, From: from, To: SelfUserName, Type: 1, Content: content}
}

// SyncBody renders a webwxsync response. cursor is a list of key, val
// pairs.
func SyncBody(ret int, cursor [][2]int64, msgs ...Msg) string {
	type item struct {
		Key int64
		Val int64
	}
	type addMsg struct {
		MsgId        string
		FromUserName string
		ToUserName   string
		MsgType      int
		Content      string
		CreateTime   int64
	}
	list := make([]item, len(cursor))
	for i, kv := range cursor {
		list[i] = item{Key: kv[0], Val: kv[1]}
	}
	add := make([]addMsg, len(msgs))
	for i, m := range msgs {
		add[i] = addMsg{
			MsgId:        m.ID,
			FromUserName: m.From,
			ToUserName:   m.To,
			MsgType:      m.Type,
			Content:      m.Content,
			CreateTime:   time.Now().Unix(),
		}
	}
	body, _ := json.Marshal(map[string]any{
		"BaseResponse": map[string]any{"Ret": ret, "ErrMsg": ""},
		"SyncCheckKey": map[string]any{"Count": len(list), "List": list},
		"AddMsgCount":  len(add),
		"AddMsgList":   add,
	})
	return string(body)
}

// SyncCheckBody renders a synccheck response.
func SyncCheckBody(retcode, selector string) string {
	return fmt.Sprintf(`window.synccheck={retcode:"%s",selector:"%s"}`, retcode, selector)
}

type Sent struct {
	From    string
	To      string
	Content string
	Skey    string
}

// Server fakes the login, init, sync, send and contact endpoints. Scripted
// responses are consumed in order; the last one repeats.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	scanCodes   []string
	initMarkup  string
	initJSON    string
	syncChecks  []string
	syncBodies  []string
	contacts    string
	avatarFail  map[string]bool
	avatarDelay time.Duration

	hits         map[string]int
	sent         []Sent
	syncKeys     []string
	syncRequests []string
	inFlight     int
	maxInFlight  int
}

func NewServer() *Server {
	s := &Server{
		scanCodes:  []string{"200"},
		initMarkup: DefaultInitMarkup,
		initJSON:   DefaultInitJSON,
		syncChecks: []string{SyncCheckBody("0", "0")},
		syncBodies: []string{SyncBody(0, [][2]int64{{1, 101}, {2, 201}})},
		contacts:   `{"BaseResponse":{"Ret":0},"MemberCount":0,"MemberList":[]}`,
		avatarFail: map[string]bool{},
		hits:       map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Host is the host:port the redirect URI points at.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func (s *Server) RedirectURI() string {
	return s.URL + cgi + "/webwxnewloginpage?ticket=A1b2&uuid=" + Ticket + "&lang=zh_CN&scan=1700000000"
}

func (s *Server) SetScanCodes(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCodes = codes
}

func (s *Server) SetInitMarkup(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initMarkup = body
}

func (s *Server) SetInitJSON(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initJSON = body
}

func (s *Server) SetSyncChecks(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncChecks = bodies
}

func (s *Server) SetSyncBodies(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncBodies = bodies
}

func (s *Server) SetContacts(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = body
}

// FailAvatar makes the avatar of userName return 500.
func (s *Server) FailAvatar(userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatarFail[userName] = true
}

func (s *Server) SetAvatarDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatarDelay = d
}

// Hits counts requests to the endpoint name, e.g. "synccheck".
func (s *Server) Hits(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[endpoint]
}

func (s *Server) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// SyncKeys returns the synckey query of every synccheck received.
func (s *Server) SyncKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.syncKeys...)
}

// SyncRequests returns the raw bodies of every webwxsync received.
func (s *Server) SyncRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.syncRequests...)
}

// MaxAvatarConcurrency is the peak number of avatar requests in flight.
func (s *Server) MaxAvatarConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func next(queue *[]string) string {
	q := *queue
	if len(q) == 0 {
		return ""
	}
	head := q[0]
	if len(q) > 1 {
		*queue = q[1:]
	}
	return head
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if strings.HasPrefix(r.URL.Path, "/qrcode/") {
		endpoint = "qrcode"
	}

	s.mu.Lock()
	s.hits[endpoint]++
	s.mu.Unlock()

	switch endpoint {
	case "jslogin":
		fmt.Fprintf(w, `window.QRLogin.code = 200; window.QRLogin.uuid = "%s";`, Ticket)

	case "qrcode":
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("\xff\xd8\xff\xe0fake-jpeg"))

	case "login":
		s.mu.Lock()
		code := next(&s.scanCodes)
		s.mu.Unlock()
		if code == "200" {
			fmt.Fprintf(w, "window.code=200;\nwindow.redirect_uri=\"%s\";", s.RedirectURI())
			return
		}
		fmt.Fprintf(w, "window.code=%s;", code)

	case "webwxnewloginpage":
		s.mu.Lock()
		body := s.initMarkup
		s.mu.Unlock()
		w.Write([]byte(body))

	case "webwxinit":
		s.mu.Lock()
		body := s.initJSON
		s.mu.Unlock()
		w.Write([]byte(body))

	case "synccheck":
		s.mu.Lock()
		s.syncKeys = append(s.syncKeys, r.URL.Query().Get("synckey"))
		body := next(&s.syncChecks)
		s.mu.Unlock()
		w.Write([]byte(body))

	case "webwxsync":
		raw := readBody(r)
		s.mu.Lock()
		s.syncRequests = append(s.syncRequests, raw)
		body := next(&s.syncBodies)
		s.mu.Unlock()
		w.Write([]byte(body))

	case "webwxsendmsg":
		var req struct {
			BaseRequest struct{ Skey string }
			Msg         struct {
				FromUserName string
				ToUserName   string
				Content      string
			}
		}
		if err := json.Unmarshal([]byte(readBody(r)), &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.sent = append(s.sent, Sent{
			From:    req.Msg.FromUserName,
			To:      req.Msg.ToUserName,
			Content: req.Msg.Content,
			Skey:    req.BaseRequest.Skey,
		})
		s.mu.Unlock()
		fmt.Fprint(w, `{"BaseResponse":{"Ret":0,"ErrMsg":""},"MsgID":"9001","LocalID":"1"}`)

	case "webwxgetcontact":
		s.mu.Lock()
		body := s.contacts
		s.mu.Unlock()
		w.Write([]byte(body))

	case "webwxgeticon":
		user := r.URL.Query().Get("username")
		s.mu.Lock()
		s.inFlight++
		if s.inFlight > s.maxInFlight {
			s.maxInFlight = s.inFlight
		}
		fail := s.avatarFail[user]
		delay := s.avatarDelay
		s.mu.Unlock()

		time.Sleep(delay)

		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()

		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("avatar:" + user))

	default:
		http.NotFound(w, r)
	}
}

func readBody(r *http.Request) string {
	data, _ := io.ReadAll(r.Body)
	return string(data)
}
