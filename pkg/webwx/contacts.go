package webwx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
)

// GroupPrefix marks multi-party conversation ids.
const GroupPrefix = "@@"

// Contact is the slice of a contact record the rest of the system uses.
// UserName is only valid for one session; Key (the full pinyin name) is
// stable across logins.
type Contact struct {
	UserName   string `json:"user_name"`
	NickName   string `json:"nick_name"`
	Key        string `json:"key"`
	HeadImgURL string `json:"head_img_url,omitempty"`
}

func (c Contact) IsGroup() bool {
	return strings.HasPrefix(c.UserName, GroupPrefix)
}

// ParseContacts pulls the contact fields out of a webwxgetcontact body
// without decoding the rest of the record.
func ParseContacts(body []byte) ([]Contact, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("contact list is not valid JSON")
	}
	if ret := gjson.GetBytes(body, "BaseResponse.Ret").Int(); ret != 0 {
		return nil, fmt.Errorf("webwxgetcontact ret=%d", ret)
	}

	var out []Contact
	gjson.GetBytes(body, "MemberList").ForEach(func(_, v gjson.Result) bool {
		c := Contact{
			UserName:   v.Get("UserName").String(),
			NickName:   v.Get("NickName").String(),
			Key:        v.Get("PYQuanPin").String(),
			HeadImgURL: v.Get("HeadImgUrl").String(),
		}
		if c.UserName != "" {
			out = append(out, c)
		}
		return true
	})
	return out, nil
}

type DirectoryOptions struct {
	AvatarDir         string
	FetchAvatars      bool
	AvatarConcurrency int64
}

// Directory caches the contact list of the current session and keeps
// avatar images on disk.
type Directory struct {
	client *Client
	opts   DirectoryOptions

	mu       sync.RWMutex
	contacts []Contact
	byUser   map[string]Contact
}

func NewDirectory(client *Client, opts DirectoryOptions) *Directory {
	if opts.AvatarConcurrency < 1 {
		opts.AvatarConcurrency = 10
	}
	return &Directory{
		client: client,
		opts:   opts,
		byUser: make(map[string]Contact),
	}
}

// Refresh reloads the contact list. The session's own identity is added
// to the result. Avatars are fetched separately by FetchAvatars.
func (d *Directory) Refresh(ctx context.Context, s *Session) ([]Contact, error) {
	req, passTicket, ep, _ := s.wire()
	r, _ := cacheBuster()

	resp, err := d.client.get(ctx, "webwxgetcontact", ep.API+"/webwxgetcontact", map[string]string{
		"r":           r,
		"seq":         "0",
		"skey":        req.Skey,
		"pass_ticket": passTicket,
		"target":      "t",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching contacts: %w", err)
	}

	contacts, err := ParseContacts(resp.Body())
	if err != nil {
		return nil, err
	}

	self := s.Identity()
	contacts = append(contacts, Contact{
		UserName:   self.UserName,
		NickName:   self.NickName,
		Key:        self.UserName,
		HeadImgURL: self.HeadImgURL,
	})

	byUser := make(map[string]Contact, len(contacts))
	for _, c := range contacts {
		byUser[c.UserName] = c
	}

	d.mu.Lock()
	d.contacts = contacts
	d.byUser = byUser
	d.mu.Unlock()

	logger.InfoCF("contacts", "Contacts refreshed", map[string]any{
		"count": len(contacts),
	})
	return contacts, nil
}

func (d *Directory) Get(userName string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byUser[userName]
	return c, ok
}

func (d *Directory) List() []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Contact(nil), d.contacts...)
}

// FetchAvatars downloads the missing avatars of the cached contacts with
// bounded concurrency. Failed downloads are logged and skipped. It is a
// no-op unless avatar fetching is enabled.
func (d *Directory) FetchAvatars(ctx context.Context, s *Session) {
	if !d.opts.FetchAvatars || d.opts.AvatarDir == "" {
		return
	}
	contacts := d.List()
	if err := os.MkdirAll(d.opts.AvatarDir, 0o755); err != nil {
		logger.WarnCF("contacts", "Cannot create avatar dir", map[string]any{
			"dir":   d.opts.AvatarDir,
			"error": err.Error(),
		})
		return
	}

	sem := semaphore.NewWeighted(d.opts.AvatarConcurrency)
	var wg sync.WaitGroup
	var failed int
	var failedMu sync.Mutex

	for _, c := range contacts {
		path := d.AvatarPath(c)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c Contact, path string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.FetchAvatar(ctx, s, c.UserName, path); err != nil {
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				logger.WarnCF("contacts", "Avatar fetch failed", map[string]any{
					"user":  c.UserName,
					"error": err.Error(),
				})
			}
		}(c, path)
	}
	wg.Wait()

	if failed > 0 {
		logger.InfoCF("contacts", "Avatar fetch finished with failures", map[string]any{
			"failed": failed,
		})
	}
}

// AvatarPath is where the avatar of c is stored.
func (d *Directory) AvatarPath(c Contact) string {
	name := c.Key
	if name == "" {
		name = c.UserName
	}
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	return filepath.Join(d.opts.AvatarDir, name+".jpg")
}

// FetchAvatar downloads the avatar of userName to path.
func (d *Directory) FetchAvatar(ctx context.Context, s *Session, userName, path string) error {
	req, _, ep, _ := s.wire()
	resp, err := d.client.get(ctx, "webwxgeticon", ep.API+"/webwxgeticon", map[string]string{
		"seq":      "0",
		"username": userName,
		"skey":     req.Skey,
		"type":     "big",
		"target":   "t",
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webwxgeticon: http %d", resp.StatusCode())
	}
	return os.WriteFile(path, resp.Body(), 0o644)
}
