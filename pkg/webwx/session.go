package webwx

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SyncKeyItem is one (key, value) counter of the sync cursor.
type SyncKeyItem struct {
	Key int64 `json:"Key"`
	Val int64 `json:"Val"`
}

// Cursor is the server-authoritative resume point for message delivery.
// It is only ever replaced with what the server returned, never edited.
type Cursor struct {
	Count int           `json:"Count"`
	List  []SyncKeyItem `json:"List"`
}

// String renders the cursor as key_val|key_val for the synccheck query.
func (c Cursor) String() string {
	parts := make([]string, len(c.List))
	for i, item := range c.List {
		parts[i] = strconv.FormatInt(item.Key, 10) + "_" + strconv.FormatInt(item.Val, 10)
	}
	return strings.Join(parts, "|")
}

func (c Cursor) Clone() Cursor {
	out := Cursor{Count: c.Count}
	if c.List != nil {
		out.List = append([]SyncKeyItem(nil), c.List...)
	}
	return out
}

func (c Cursor) Empty() bool {
	return len(c.List) == 0
}

// BaseRequest is the credential envelope every JSON call carries.
type BaseRequest struct {
	Uin      int64  `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

type BaseResponse struct {
	Ret    int    `json:"Ret"`
	ErrMsg string `json:"ErrMsg"`
}

type Identity struct {
	Uin        int64  `json:"Uin"`
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	HeadImgURL string `json:"HeadImgUrl"`
}

// Endpoints are the three base URIs derived from the deployment host.
type Endpoints struct {
	API  string `json:"api"`
	Sync string `json:"sync"`
	File string `json:"file"`
}

// Hosts maps a deployment to its file and push hosts.
type Hosts struct {
	File string
	Sync string
}

// HostTable maps the host of a login redirect to its sibling hosts.
type HostTable map[string]Hosts

// DefaultHostTable lists the known deployments. The bare qq.com and
// wechat.com entries cover redirects that omit the wx subdomain.
func DefaultHostTable() HostTable {
	return HostTable{
		"wx2.qq.com":      {File: "file.wx2.qq.com", Sync: "webpush.wx2.qq.com"},
		"wx8.qq.com":      {File: "file.wx8.qq.com", Sync: "webpush.wx8.qq.com"},
		"wx.qq.com":       {File: "file.wx.qq.com", Sync: "webpush.wx.qq.com"},
		"qq.com":          {File: "file.wx.qq.com", Sync: "webpush.wx.qq.com"},
		"web2.wechat.com": {File: "file.web2.wechat.com", Sync: "webpush.web2.wechat.com"},
		"web.wechat.com":  {File: "file.web.wechat.com", Sync: "webpush.web.wechat.com"},
		"wechat.com":      {File: "file.web.wechat.com", Sync: "webpush.web.wechat.com"},
	}
}

const cgiPath = "/cgi-bin/mmwebwx-bin"

// Resolve derives the api, sync and file base URIs from a login redirect.
// The redirect must point under /cgi-bin/mmwebwx-bin on a host the table
// knows about.
func (t HostTable) Resolve(redirectURI string) (Endpoints, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return Endpoints{}, fmt.Errorf("%w: %q", ErrUnknownHost, redirectURI)
	}
	if !strings.HasPrefix(u.Path, cgiPath) {
		return Endpoints{}, fmt.Errorf("%w: unexpected path %q", ErrUnknownHost, u.Path)
	}
	hosts, ok := t[u.Host]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: %s", ErrUnknownHost, u.Host)
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	base := func(host string) string { return scheme + "://" + host + cgiPath }
	return Endpoints{
		API:  base(u.Host),
		Sync: base(hosts.Sync),
		File: base(hosts.File),
	}, nil
}

// NewDeviceID returns "e" followed by 15 random digits.
func NewDeviceID() string {
	var sb strings.Builder
	sb.Grow(16)
	sb.WriteByte('e')
	for range 15 {
		sb.WriteByte(byte('0' + rand.IntN(10)))
	}
	return sb.String()
}

// SessionParams seeds a Session. Normally only the login flow builds one.
type SessionParams struct {
	Identity   Identity
	Request    BaseRequest
	PassTicket string
	Endpoints  Endpoints
	Cursor     Cursor
}

// Session is an authenticated protocol session. The sync loop is its only
// writer; everything else reads through Snapshot.
type Session struct {
	mu sync.RWMutex

	identity   Identity
	request    BaseRequest
	passTicket string
	endpoints  Endpoints
	cursor     Cursor

	valid         bool
	establishedAt time.Time
	lastSyncAt    time.Time
	syncCount     int64
}

func NewSession(p SessionParams) *Session {
	if p.Request.DeviceID == "" {
		p.Request.DeviceID = NewDeviceID()
	}
	return &Session{
		identity:      p.Identity,
		request:       p.Request,
		passTicket:    p.PassTicket,
		endpoints:     p.Endpoints,
		cursor:        p.Cursor.Clone(),
		valid:         true,
		establishedAt: time.Now(),
	}
}

// Snapshot is a point-in-time copy of the session without secrets.
type Snapshot struct {
	Identity      Identity  `json:"identity"`
	DeviceID      string    `json:"device_id"`
	Endpoints     Endpoints `json:"endpoints"`
	Cursor        Cursor    `json:"cursor"`
	Valid         bool      `json:"valid"`
	EstablishedAt time.Time `json:"established_at"`
	LastSyncAt    time.Time `json:"last_sync_at,omitzero"`
	SyncCount     int64     `json:"sync_count"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Identity:      s.identity,
		DeviceID:      s.request.DeviceID,
		Endpoints:     s.endpoints,
		Cursor:        s.cursor.Clone(),
		Valid:         s.valid,
		EstablishedAt: s.establishedAt,
		LastSyncAt:    s.lastSyncAt,
		SyncCount:     s.syncCount,
	}
}

func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserName
}

func (s *Session) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.Clone()
}

func (s *Session) Endpoints() Endpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoints
}

func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Invalidate marks the session unusable. It cannot be revived.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// replaceCursor installs the server-returned cursor wholesale.
func (s *Session) replaceCursor(c Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = c.Clone()
	s.lastSyncAt = time.Now()
	s.syncCount++
}

// wire returns everything a protocol call needs under one read lock.
func (s *Session) wire() (BaseRequest, string, Endpoints, Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.request, s.passTicket, s.endpoints, s.cursor.Clone()
}
