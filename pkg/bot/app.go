// Package bot assembles the protocol client, rule engine, store and
// background services into one running client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/bus"
	"github.com/tinyland-inc/wxclaw/pkg/config"
	"github.com/tinyland-inc/wxclaw/pkg/dispatch"
	"github.com/tinyland-inc/wxclaw/pkg/history"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/metering"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/scheduler"
	"github.com/tinyland-inc/wxclaw/pkg/status"
	"github.com/tinyland-inc/wxclaw/pkg/store"
	"github.com/tinyland-inc/wxclaw/pkg/supervisor"
	"github.com/tinyland-inc/wxclaw/pkg/webwx"
)

type App struct {
	cfg *config.Config

	Store     *store.Store
	Client    *webwx.Client
	Manager   *webwx.Manager
	Directory *webwx.Directory
	Pool      *providers.Pool
	Engine    *rules.Engine
	History   *history.History
	Bus       *bus.MessageBus
	Meters    *metering.MeterStore
	Scheduler *scheduler.Runner

	supervisor atomic.Pointer[supervisor.Supervisor]
	avatars    sync.WaitGroup
}

type Option func(*settings)

type settings struct {
	manager *webwx.ManagerOptions
	client  *webwx.Client
	hc      *http.Client
	factory providers.GeneratorFactory
}

// WithManagerOptions overrides the login endpoints and host table.
func WithManagerOptions(mo webwx.ManagerOptions) Option {
	return func(s *settings) { s.manager = &mo }
}

func WithClient(c *webwx.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithGeneratorFactory replaces how generation backends are constructed.
func WithGeneratorFactory(f providers.GeneratorFactory) Option {
	return func(s *settings) { s.factory = f }
}

func WithGenerationHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.hc = hc }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	client := set.client
	if client == nil {
		client, err = webwx.NewClientFromConfig(cfg.Protocol)
		if err != nil {
			return nil, err
		}
	}

	mo := webwx.ManagerOptionsFromConfig(cfg)
	if set.manager != nil {
		mo = *set.manager
	}

	meters := metering.NewMeterStore()
	poolOpts := []providers.PoolOption{providers.WithUsageRecorder(meters)}
	if set.hc != nil {
		poolOpts = append(poolOpts, providers.WithHTTPClient(set.hc))
	}
	if set.factory != nil {
		poolOpts = append(poolOpts, providers.WithFactory(set.factory))
	}
	pool := providers.NewPool(cfg.Sync.GenerationTimeout(), poolOpts...)
	engine := rules.NewEngine(pool)
	mb := bus.NewMessageBus()

	a := &App{
		cfg:     cfg,
		Store:   st,
		Client:  client,
		Manager: webwx.NewManager(client, mo),
		Directory: webwx.NewDirectory(client, webwx.DirectoryOptions{
			AvatarDir:         cfg.AvatarPath(),
			FetchAvatars:      cfg.Contacts.FetchAvatars,
			AvatarConcurrency: int64(cfg.Contacts.AvatarConcurrency),
		}),
		Pool:    pool,
		Engine:  engine,
		History: history.New(cfg.Sync.HistorySize),
		Bus:     mb,
		Meters:  meters,
	}
	a.Scheduler = scheduler.NewRunner(engine, sessionSender{a}, a, scheduler.Options{Bus: mb, Meters: meters})
	return a, nil
}

func (a *App) Config() *config.Config {
	return a.cfg
}

// sessionSender sends through whichever session is current.
type sessionSender struct{ a *App }

func (s sessionSender) SendText(ctx context.Context, to, content string) error {
	sess := s.a.Manager.Session()
	if sess == nil || !sess.Valid() {
		return webwx.ErrNotLoggedIn
	}
	return s.a.Client.SendText(ctx, sess, to, content)
}

// Peers lists the directory contacts that belong to g, excluding the
// session's own identity.
func (a *App) Peers(g rules.Group) []string {
	self := ""
	if sess := a.Manager.Session(); sess != nil {
		self = sess.UserName()
	}
	var out []string
	for _, c := range a.Directory.List() {
		if c.UserName == self || c.UserName == "" {
			continue
		}
		if g.Hit(c.UserName) {
			out = append(out, c.UserName)
		}
	}
	return out
}

// SaveQR writes the QR image where the operator can open it and returns
// the path.
func (a *App) SaveQR(qr *webwx.QRCode) (string, error) {
	path := a.cfg.QRCodePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating qr directory: %w", err)
	}
	if err := os.WriteFile(path, qr.Image, 0o600); err != nil {
		return "", fmt.Errorf("writing qr image: %w", err)
	}
	return path, nil
}

// Login runs the QR flow, then refreshes contacts and rebinds stored group
// members to the fresh session ids. Contact failures do not fail login.
// Avatars download in the background until ctx is done.
func (a *App) Login(ctx context.Context, onQR func(*webwx.QRCode)) (*webwx.Session, error) {
	sess, err := a.Manager.Login(ctx, onQR)
	if err != nil {
		return nil, err
	}
	logger.InfoCF("login", "Logged in", map[string]any{
		"user":     sess.UserName(),
		"nickname": sess.Identity().NickName,
	})
	_ = a.Bus.Publish(bus.Event{Kind: bus.EventSession, Detail: "authenticated"})
	a.refreshContacts(ctx, sess)
	return sess, nil
}

func (a *App) refreshContacts(ctx context.Context, sess *webwx.Session) {
	contacts, err := a.Directory.Refresh(ctx, sess)
	if err != nil {
		logger.WarnCF("contacts", "Contact refresh failed", map[string]any{"error": err.Error()})
		return
	}
	fresh := make(map[string]rules.Member, len(contacts))
	for _, c := range contacts {
		if c.Key == "" {
			continue
		}
		fresh[c.Key] = rules.Member{UserName: c.UserName, Key: c.Key, NickName: c.NickName}
	}
	if _, err := a.Store.RebindMembers(fresh); err != nil {
		logger.WarnCF("store", "Member rebind failed", map[string]any{"error": err.Error()})
	}

	a.avatars.Add(1)
	go func() {
		defer a.avatars.Done()
		a.Directory.FetchAvatars(ctx, sess)
	}()
}

// NewLoop binds a sync loop to sess.
func (a *App) NewLoop(sess *webwx.Session) *dispatch.Loop {
	return dispatch.NewLoop(a.Client, sess, a.Engine, a.Store, a.History, dispatch.Options{
		Interval:      a.cfg.Sync.Interval(),
		SelfNotesPeer: a.cfg.Sync.SelfNotesPeer,
		Bus:           a.Bus,
		Meters:        a.Meters,
		Contacts:      a.Directory,
	})
}

// Supervise runs the sync loop for sess under a supervisor until ctx is
// done or the session is revoked.
func (a *App) Supervise(ctx context.Context, sess *webwx.Session) error {
	loop := a.NewLoop(sess)
	sup := supervisor.New(loop.Run, supervisor.Options{
		Name:         "sync",
		StallTimeout: a.cfg.Sync.StallTimeout(),
		RestartDelay: supervisor.DefaultRestartDelay,
		Terminal: func(err error) bool {
			return errors.Is(err, webwx.ErrSessionInvalid)
		},
	})
	a.supervisor.Store(sup)

	err := sup.Run(ctx)
	if errors.Is(err, webwx.ErrSessionInvalid) {
		a.Manager.Invalidate()
	}
	return err
}

// Run logs in, starts the scheduler and status server, and supervises the
// sync loop. It returns when ctx is done or the session ends. A session
// still live at shutdown is logged out.
func (a *App) Run(ctx context.Context, onQR func(*webwx.QRCode)) error {
	ctx, cancel := context.WithCancel(ctx)

	var statusSrv *status.Server
	if a.cfg.Status.Enabled {
		statusSrv = a.StatusServer()
		go func() {
			if err := statusSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorCF("status", "Status server error", map[string]any{"error": err.Error()})
			}
		}()
	}
	defer func() {
		cancel()
		a.Scheduler.StopAll()
		a.avatars.Wait()
		if a.Manager.State() == webwx.StateAuthenticated {
			a.Manager.Logout()
			logger.InfoC("login", "Logged out")
		}
		if statusSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			statusSrv.Stop(shutdownCtx)
		}
		a.Bus.Close()
	}()

	sess, err := a.Login(ctx, onQR)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	n, err := a.Scheduler.StartAll(ctx, a.Store)
	if err != nil {
		logger.WarnCF("scheduler", "Scheduled rules not started", map[string]any{"error": err.Error()})
	} else {
		logger.InfoCF("scheduler", "Scheduled rules started", map[string]any{"count": n})
	}

	return a.Supervise(ctx, sess)
}

// Snapshot is the /status document.
type Snapshot struct {
	State     string                `json:"state"`
	Session   *webwx.Snapshot       `json:"session,omitempty"`
	Sync      *supervisor.Status    `json:"sync,omitempty"`
	Schedules []scheduler.Execution `json:"schedules"`
	Meters    metering.Snapshot     `json:"meters"`
	Contacts  int                   `json:"contacts"`
	Peers     int                   `json:"history_peers"`
	Dropped   int64                 `json:"dropped_events"`
}

func (a *App) Snapshot() Snapshot {
	snap := Snapshot{
		State:     a.Manager.State().String(),
		Schedules: a.Scheduler.ListExecutions(),
		Meters:    a.Meters.Snapshot(),
		Contacts:  len(a.Directory.List()),
		Peers:     a.History.Peers(),
		Dropped:   a.Bus.Dropped(),
	}
	if sess := a.Manager.Session(); sess != nil {
		ss := sess.Snapshot()
		snap.Session = &ss
	}
	if sup := a.supervisor.Load(); sup != nil {
		st := sup.Status()
		snap.Sync = &st
	}
	return snap
}

// Ready reports whether a valid session is authenticated.
func (a *App) Ready() bool {
	return a.Manager.State() == webwx.StateAuthenticated
}

func (a *App) StatusServer() *status.Server {
	return status.NewServer(status.Options{
		Host:     a.cfg.Status.Host,
		Port:     a.cfg.Status.Port,
		Ready:    a.Ready,
		Snapshot: func() any { return a.Snapshot() },
		Bus:      a.Bus,
	})
}
