// Package dispatch runs the two-phase poll cycle against a live session
// and answers incoming text messages through the rule engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/bus"
	"github.com/tinyland-inc/wxclaw/pkg/history"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/metering"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/webwx"
)

// Transport is the slice of the protocol client the loop needs.
type Transport interface {
	Check(ctx context.Context, s *webwx.Session) (webwx.SyncCheck, error)
	Sync(ctx context.Context, s *webwx.Session) (*webwx.SyncBatch, error)
	SendText(ctx context.Context, s *webwx.Session, to, content string) error
}

// ContactLookup resolves a sender id to its directory entry.
type ContactLookup interface {
	Get(userName string) (webwx.Contact, bool)
}

// RuleSource yields the enabled, resolved rules in evaluation order.
type RuleSource interface {
	ResolveRunning() ([]rules.RunningRule, error)
}

const (
	DefaultInterval      = time.Second
	DefaultSelfNotesPeer = "filehelper"
)

type Options struct {
	Interval time.Duration
	// SelfNotesPeer receives a copy of every reply.
	SelfNotesPeer string
	Bus           *bus.MessageBus
	Meters        *metering.MeterStore
	// Contacts, when set, names senders in events and logs.
	Contacts ContactLookup
}

// Loop owns the poll cycle of one session. Only one Loop may run per
// session at a time; the supervisor enforces that.
type Loop struct {
	transport Transport
	session   *webwx.Session
	engine    *rules.Engine
	rules     RuleSource
	history   *history.History
	opts      Options
}

func NewLoop(t Transport, s *webwx.Session, e *rules.Engine, rs RuleSource, h *history.History, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SelfNotesPeer == "" {
		opts.SelfNotesPeer = DefaultSelfNotesPeer
	}
	if h == nil {
		h = history.New(history.DefaultSize)
	}
	return &Loop{transport: t, session: s, engine: e, rules: rs, history: h, opts: opts}
}

func (l *Loop) Session() *webwx.Session {
	return l.session
}

func (l *Loop) History() *history.History {
	return l.history
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	Check    webwx.SyncCheck
	Fetched  bool
	Degraded bool
	Failed   bool
	Messages int
	Replies  int
}

// Cycle runs one check and, when the server asks for it, one sync plus
// dispatch of every delivered text message. A revoked session invalidates
// the session and returns webwx.ErrSessionInvalid. Transport failures are
// logged and reported as a failed cycle, not as an error.
func (l *Loop) Cycle(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if l.opts.Meters != nil && err == nil {
			l.opts.Meters.RecordCycle(res.Failed, res.Messages, res.Replies)
		}
	}()

	check, err := l.transport.Check(ctx, l.session)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logger.WarnCF("sync", "Sync check failed", map[string]any{"error": err.Error()})
		res.Failed = true
		return res, nil
	}
	res.Check = check

	if check.SessionInvalid() {
		l.session.Invalidate()
		logger.ErrorCF("sync", "Session revoked by server", map[string]any{
			"retcode":  check.RetCode,
			"selector": check.Selector,
		})
		l.publish(bus.Event{Kind: bus.EventSession, Detail: "invalid"})
		return res, webwx.ErrSessionInvalid
	}
	if !check.HasMessages() {
		return res, nil
	}

	batch, err := l.transport.Sync(ctx, l.session)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logger.WarnCF("sync", "Sync failed", map[string]any{"error": err.Error()})
		res.Failed = true
		return res, nil
	}
	res.Fetched = true
	res.Degraded = batch.Degraded

	self := l.session.UserName()
	var running []rules.RunningRule
	loaded := false

	for _, msg := range batch.Messages {
		if !msg.IsText() || msg.To != self {
			continue
		}
		res.Messages++
		if l.opts.Bus != nil {
			l.published(l.opts.Bus.PublishInbound(bus.InboundMessage{
				MessageID: msg.ID,
				Peer:      bus.PeerOf(msg.From),
				NickName:  l.nickName(msg.From),
				Content:   msg.Content,
			}))
		}

		if !loaded {
			running, err = l.rules.ResolveRunning()
			if err != nil {
				logger.ErrorCF("dispatch", "Loading rules failed", map[string]any{"error": err.Error()})
				running = nil
			}
			loaded = true
		}

		if l.dispatch(ctx, running, msg) {
			res.Replies++
		}
	}
	return res, nil
}

func (l *Loop) dispatch(ctx context.Context, running []rules.RunningRule, msg webwx.Message) bool {
	out, ok := l.engine.Match(ctx, running, msg.From, msg.Content, l.history.Get(msg.From))
	if !ok {
		logger.DebugCF("dispatch", "No rule matched", map[string]any{"from": msg.From, "msg_id": msg.ID})
		return false
	}

	if err := l.transport.SendText(ctx, l.session, msg.From, out.Content); err != nil {
		logger.ErrorCF("dispatch", "Reply send failed", map[string]any{
			"to":    msg.From,
			"rule":  out.RuleID,
			"error": err.Error(),
		})
		return false
	}
	if err := l.transport.SendText(ctx, l.session, l.opts.SelfNotesPeer, out.Content); err != nil {
		logger.WarnCF("dispatch", "Self-notes copy failed", map[string]any{"error": err.Error()})
	}

	l.history.PushExchange(msg.From, msg.Content, out.Content)
	if l.opts.Meters != nil {
		l.opts.Meters.RecordRuleHit(out.RuleID)
	}
	if l.opts.Bus != nil {
		l.published(l.opts.Bus.PublishOutbound(bus.OutboundMessage{
			Peer:       bus.PeerOf(msg.From),
			Content:    out.Content,
			RuleID:     out.RuleID,
			ReplyIndex: out.ReplyIndex,
			Origin:     "message",
		}))
	}
	logger.InfoCF("dispatch", "Replied", map[string]any{
		"to":    msg.From,
		"name":  l.nickName(msg.From),
		"rule":  out.RuleName,
		"reply": out.ReplyIndex,
		"type":  string(out.Type),
	})
	return true
}

func (l *Loop) nickName(userName string) string {
	if l.opts.Contacts == nil {
		return ""
	}
	c, ok := l.opts.Contacts.Get(userName)
	if !ok {
		return ""
	}
	return c.NickName
}

func (l *Loop) publish(ev bus.Event) {
	if l.opts.Bus == nil {
		return
	}
	l.published(l.opts.Bus.Publish(ev))
}

func (l *Loop) published(err error) {
	if err != nil && !errors.Is(err, bus.ErrBusClosed) {
		logger.DebugCF("dispatch", "Event publish failed", map[string]any{"error": err.Error()})
	}
}

// Run cycles until ctx is done or the session is revoked. beat, when
// non-nil, is called after every completed cycle.
func (l *Loop) Run(ctx context.Context, beat func()) error {
	logger.InfoCF("sync", "Sync loop started", map[string]any{
		"user":     l.session.UserName(),
		"interval": l.opts.Interval.String(),
	})
	for {
		res, err := l.Cycle(ctx)
		if err != nil {
			if errors.Is(err, webwx.ErrSessionInvalid) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sync cycle: %w", err)
		}
		if beat != nil {
			beat()
		}
		if res.Fetched {
			l.publish(bus.Event{Kind: bus.EventCycle, Detail: fmt.Sprintf("messages=%d replies=%d", res.Messages, res.Replies)})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.Interval):
		}
	}
}
