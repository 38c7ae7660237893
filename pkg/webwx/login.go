package webwx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/config"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
)

type State int

const (
	StateUnauthenticated State = iota
	StateQRIssued
	StatePendingScan
	StateAuthenticated
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateQRIssued:
		return "qr_issued"
	case StatePendingScan:
		return "pending_scan"
	case StateAuthenticated:
		return "authenticated"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type ManagerOptions struct {
	AppID string
	// LoginBaseURL serves jslogin and qrcode.
	LoginBaseURL string
	// CheckBaseURL serves the scan-status long poll.
	CheckBaseURL string
	Hosts        HostTable

	PollInterval  time.Duration
	MaxQRReissues int
}

func ManagerOptionsFromConfig(cfg *config.Config) ManagerOptions {
	return ManagerOptions{
		AppID:         cfg.Protocol.AppID,
		LoginBaseURL:  cfg.Protocol.LoginBaseURL,
		CheckBaseURL:  cfg.Protocol.CheckBaseURL,
		Hosts:         DefaultHostTable(),
		PollInterval:  cfg.Login.PollInterval(),
		MaxQRReissues: cfg.Login.MaxQRReissues,
	}
}

// QRCode is an issued login ticket and its scannable image.
type QRCode struct {
	Ticket string
	Image  []byte
	// LoginURL is the payload encoded in the image.
	LoginURL string
}

// Manager drives the login state machine:
//
//	Unauthenticated -> QRIssued -> PendingScan -> Authenticated -> Invalid
//
// It owns at most one Session at a time.
type Manager struct {
	client *Client
	opts   ManagerOptions

	mu      sync.Mutex
	state   State
	session *Session
}

func NewManager(client *Client, opts ManagerOptions) *Manager {
	if opts.Hosts == nil {
		opts.Hosts = DefaultHostTable()
	}
	return &Manager{client: client, opts: opts}
}

// State reports the login state. An authenticated manager whose session
// was invalidated by the sync loop reports StateInvalid.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticated && m.session != nil && !m.session.Valid() {
		m.state = StateInvalid
	}
	return m.state
}

// Session returns the current session, or nil before login completes.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		logger.DebugCF("login", "State change", map[string]any{
			"from": prev.String(),
			"to":   s.String(),
		})
	}
}

// cacheBuster returns the r and _ values the web client sends.
func cacheBuster() (string, string) {
	now := time.Now().Unix()
	return strconv.FormatInt(-now/1579, 10), strconv.FormatInt(now, 10)
}

// IssueQR requests a fresh login ticket and downloads its QR image.
func (m *Manager) IssueQR(ctx context.Context) (*QRCode, error) {
	resp, err := m.client.get(ctx, "jslogin", m.opts.LoginBaseURL+"/jslogin", map[string]string{
		"appid": m.opts.AppID,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting login ticket: %w", err)
	}
	ticket, err := ParseLoginTicket(resp.String())
	if err != nil {
		return nil, err
	}

	img, err := m.client.get(ctx, "qrcode", m.opts.LoginBaseURL+"/qrcode/"+ticket, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching qr image: %w", err)
	}

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.setState(StateQRIssued)

	logger.InfoCF("login", "QR code issued", map[string]any{
		"ticket": ticket,
		"bytes":  len(img.Body()),
	})
	return &QRCode{
		Ticket:   ticket,
		Image:    img.Body(),
		LoginURL: "https://login.weixin.qq.com/l/" + ticket,
	}, nil
}

// PollScanStatus asks once whether the ticket has been scanned. The server
// holds the request open until the status changes or its own timeout.
func (m *Manager) PollScanStatus(ctx context.Context, ticket string) (ScanResult, error) {
	r, underscore := cacheBuster()
	resp, err := m.client.get(ctx, "login_check", m.opts.CheckBaseURL+cgiPath+"/login", map[string]string{
		"loginicon": "true",
		"uuid":      ticket,
		"tip":       "1",
		"r":         r,
		"_":         underscore,
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("checking scan status: %w", err)
	}

	res := ParseScanStatus(resp.String())
	switch res.Status {
	case ScanConfirmed:
		m.setState(StatePendingScan)
	case ScanExpired:
		m.setState(StateInvalid)
	}
	return res, nil
}

type initResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	User         Identity     `json:"User"`
	SyncKey      Cursor       `json:"SyncKey"`
}

// EstablishSession follows a confirmed login redirect, scans the returned
// markup for credentials and runs webwxinit. Any failure leaves the
// manager Invalid with no session.
func (m *Manager) EstablishSession(ctx context.Context, redirectURI string) (*Session, error) {
	s, err := m.establish(ctx, redirectURI)
	if err != nil {
		m.mu.Lock()
		m.session = nil
		m.mu.Unlock()
		m.setState(StateInvalid)
		logger.ErrorCF("login", "Session setup failed", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.setState(StateAuthenticated)

	id := s.Identity()
	logger.InfoCF("login", "Session established", map[string]any{
		"user":   id.UserName,
		"nick":   id.NickName,
		"api":    s.Endpoints().API,
		"cursor": s.Cursor().String(),
	})
	return s, nil
}

func (m *Manager) establish(ctx context.Context, redirectURI string) (*Session, error) {
	endpoints, err := m.opts.Hosts.Resolve(redirectURI)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.get(ctx, "newlogin", redirectURI, map[string]string{
		"fun":     "new",
		"version": "v2",
		"mod":     "desktop",
		"lang":    "zh-CN",
	})
	if err != nil {
		return nil, fmt.Errorf("following login redirect: %w", err)
	}
	creds, err := ParseInitMarkup(resp.String())
	if err != nil {
		return nil, err
	}

	req := BaseRequest{
		Uin:      creds.UIN,
		Sid:      creds.SID,
		Skey:     creds.SKey,
		DeviceID: NewDeviceID(),
	}

	r, _ := cacheBuster()
	resp, err = m.client.postJSON(ctx, "webwxinit", endpoints.API+"/webwxinit", map[string]string{
		"r":           r,
		"pass_ticket": creds.PassTicket,
	}, map[string]any{"BaseRequest": req})
	if err != nil {
		return nil, fmt.Errorf("webwxinit: %w", err)
	}

	var init initResponse
	if err := json.Unmarshal(resp.Body(), &init); err != nil {
		return nil, fmt.Errorf("decoding webwxinit response: %w", err)
	}
	if init.BaseResponse.Ret != 0 {
		return nil, fmt.Errorf("%w: webwxinit ret=%d %s", ErrInitRejected, init.BaseResponse.Ret, init.BaseResponse.ErrMsg)
	}
	if init.User.UserName == "" {
		return nil, fmt.Errorf("%w: User.UserName", ErrMissingField)
	}

	return NewSession(SessionParams{
		Identity:   init.User,
		Request:    req,
		PassTicket: creds.PassTicket,
		Endpoints:  endpoints,
		Cursor:     init.SyncKey,
	}), nil
}

// Login runs the whole flow: issue a QR code, hand it to onQR, poll until
// the phone confirms, then establish the session. Expired codes are
// reissued up to MaxQRReissues times.
func (m *Manager) Login(ctx context.Context, onQR func(*QRCode)) (*Session, error) {
	for issued := 0; ; issued++ {
		qr, err := m.IssueQR(ctx)
		if err != nil {
			m.setState(StateInvalid)
			return nil, err
		}
		if onQR != nil {
			onQR(qr)
		}

		redirect, err := m.awaitConfirmation(ctx, qr.Ticket)
		if errors.Is(err, ErrQRExpired) {
			if issued >= m.opts.MaxQRReissues {
				return nil, err
			}
			logger.InfoCF("login", "QR code expired, reissuing", map[string]any{
				"attempt": issued + 1,
				"max":     m.opts.MaxQRReissues,
			})
			continue
		}
		if err != nil {
			m.setState(StateInvalid)
			return nil, err
		}

		return m.EstablishSession(ctx, redirect)
	}
}

func (m *Manager) awaitConfirmation(ctx context.Context, ticket string) (string, error) {
	scanned := false
	for {
		res, err := m.PollScanStatus(ctx, ticket)
		if err != nil {
			return "", err
		}

		switch res.Status {
		case ScanConfirmed:
			return res.RedirectURI, nil
		case ScanExpired:
			return "", fmt.Errorf("%w: code=%s", ErrQRExpired, res.Code)
		case ScanScanned:
			if !scanned {
				scanned = true
				logger.InfoC("login", "QR code scanned, waiting for confirmation")
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// Invalidate discards the session and moves to Invalid.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	if m.session != nil {
		m.session.Invalidate()
	}
	m.session = nil
	m.mu.Unlock()
	m.setState(StateInvalid)
}

// Logout discards the session and returns to Unauthenticated.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.session != nil {
		m.session.Invalidate()
	}
	m.session = nil
	m.mu.Unlock()
	m.setState(StateUnauthenticated)
}
