// Package scheduler fires scheduled rules on their cron expressions and
// sends the resolved reply to every peer of the rule's group.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/wxclaw/pkg/bus"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/metering"
	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

var (
	ErrInvalidCron    = errors.New("invalid cron expression")
	ErrAlreadyRunning = errors.New("scheduled rule already running")
	ErrNotScheduled   = errors.New("scheduled rule not found")
)

// Sender delivers one text to one peer.
type Sender interface {
	SendText(ctx context.Context, to, content string) error
}

// PeerSource lists the peers a group currently contains.
type PeerSource interface {
	Peers(g rules.Group) []string
}

// ScheduleSource yields enabled, resolved scheduled rules.
type ScheduleSource interface {
	ResolveScheduled() ([]rules.RunningSchedule, error)
}

// Execution tracks one started scheduled rule.
type Execution struct {
	RuleID   string    `json:"rule_id"`
	Name     string    `json:"name"`
	Cron     string    `json:"cron"`
	Status   Status    `json:"status"`
	NextFire time.Time `json:"next_fire,omitzero"`
	LastFire time.Time `json:"last_fire,omitzero"`
	Fires    int       `json:"fires"`
	Sent     int       `json:"sent"`
	Error    string    `json:"error,omitempty"`
}

type Options struct {
	Bus    *bus.MessageBus
	Meters *metering.MeterStore
}

// Runner owns one goroutine per started scheduled rule.
type Runner struct {
	engine *rules.Engine
	sender Sender
	peers  PeerSource
	opts   Options
	now    func() time.Time

	mu         sync.RWMutex
	executions map[string]*Execution
	cancel     map[string]context.CancelFunc
	wg         sync.WaitGroup
}

func NewRunner(engine *rules.Engine, sender Sender, peers PeerSource, opts Options) *Runner {
	return &Runner{
		engine:     engine,
		sender:     sender,
		peers:      peers,
		opts:       opts,
		now:        time.Now,
		executions: make(map[string]*Execution),
		cancel:     make(map[string]context.CancelFunc),
	}
}

// NextFire returns the first time after ref that expr is due.
func NextFire(expr string, ref time.Time) (time.Time, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return next, nil
}

// Start launches sched. An invalid cron expression is recorded as a
// failed execution and returned.
func (r *Runner) Start(ctx context.Context, sched rules.RunningSchedule) error {
	id := sched.Rule.ID
	next, cronErr := NextFire(sched.Cron, r.now())

	r.mu.Lock()
	if _, running := r.cancel[id]; running {
		r.mu.Unlock()
		return fmt.Errorf("%q: %w", id, ErrAlreadyRunning)
	}
	exec := &Execution{
		RuleID: id,
		Name:   sched.Rule.Name,
		Cron:   sched.Cron,
		Status: StatusRunning,
	}
	r.executions[id] = exec
	if cronErr != nil {
		exec.Status = StatusFailed
		exec.Error = cronErr.Error()
		r.mu.Unlock()
		logger.ErrorCF("scheduler", "Scheduled rule not started", map[string]any{
			"rule":  id,
			"cron":  sched.Cron,
			"error": cronErr.Error(),
		})
		return cronErr
	}
	exec.NextFire = next

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel[id] = cancel
	r.mu.Unlock()

	logger.InfoCF("scheduler", "Scheduled rule started", map[string]any{
		"rule":      id,
		"cron":      sched.Cron,
		"next_fire": next.Format(time.RFC3339),
	})

	r.wg.Add(1)
	go r.run(runCtx, sched, exec)
	return nil
}

// StartAll starts every scheduled rule src yields and returns how many
// started. Rules with bad cron expressions are skipped.
func (r *Runner) StartAll(ctx context.Context, src ScheduleSource) (int, error) {
	scheds, err := src.ResolveScheduled()
	if err != nil {
		return 0, fmt.Errorf("loading scheduled rules: %w", err)
	}
	started := 0
	for _, sched := range scheds {
		if err := r.Start(ctx, sched); err == nil {
			started++
		}
	}
	return started, nil
}

func (r *Runner) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrNotScheduled)
	}
	cancel, running := r.cancel[id]
	if !running {
		return fmt.Errorf("scheduled rule %q is not running (status: %s)", id, exec.Status)
	}
	cancel()
	delete(r.cancel, id)
	exec.Status = StatusStopped
	exec.NextFire = time.Time{}

	logger.InfoCF("scheduler", "Scheduled rule stopped", map[string]any{"rule": id})
	return nil
}

// StopAll stops every running rule and waits for their goroutines.
func (r *Runner) StopAll() {
	r.mu.Lock()
	for id, cancel := range r.cancel {
		cancel()
		delete(r.cancel, id)
		if exec, ok := r.executions[id]; ok {
			exec.Status = StatusStopped
			exec.NextFire = time.Time{}
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) GetStatus(id string) (Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executions[id]
	if !ok {
		return Execution{}, fmt.Errorf("%q: %w", id, ErrNotScheduled)
	}
	return *exec, nil
}

func (r *Runner) ListExecutions() []Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Execution, 0, len(r.executions))
	for _, exec := range r.executions {
		result = append(result, *exec)
	}
	return result
}

func (r *Runner) run(ctx context.Context, sched rules.RunningSchedule, exec *Execution) {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		next := exec.NextFire
		r.mu.RUnlock()

		timer := time.NewTimer(next.Sub(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		sent := r.fire(ctx, sched)

		following, err := NextFire(sched.Cron, r.now())
		r.mu.Lock()
		exec.Fires++
		exec.Sent += sent
		exec.LastFire = r.now()
		if err != nil {
			exec.Status = StatusFailed
			exec.Error = err.Error()
			delete(r.cancel, sched.Rule.ID)
			r.mu.Unlock()
			return
		}
		if exec.Status == StatusRunning {
			exec.NextFire = following
		}
		r.mu.Unlock()
	}
}

// fire resolves the rule's first non-empty reply once and sends it to
// every peer of its group. It returns the number of peers reached.
func (r *Runner) fire(ctx context.Context, sched rules.RunningSchedule) int {
	prompt := sched.Prompt
	if prompt == "" {
		prompt = sched.Rule.Name
	}
	turns := []protocoltypes.Message{{Role: protocoltypes.RoleUser, Content: prompt}}

	var content string
	var replyIndex int
	for i, reply := range sched.Replies {
		out, err := r.engine.Resolve(ctx, reply, turns)
		if err != nil {
			logger.WarnCF("scheduler", "Reply resolution failed, trying next", map[string]any{
				"rule":  sched.Rule.ID,
				"reply": i,
				"error": err.Error(),
			})
			continue
		}
		if out != "" {
			content, replyIndex = out, i
			break
		}
	}
	if content == "" {
		logger.WarnCF("scheduler", "Scheduled rule produced no content", map[string]any{"rule": sched.Rule.ID})
		return 0
	}

	sent := 0
	for _, peer := range r.peers.Peers(sched.Group) {
		if err := r.sender.SendText(ctx, peer, content); err != nil {
			logger.ErrorCF("scheduler", "Scheduled send failed", map[string]any{
				"rule":  sched.Rule.ID,
				"to":    peer,
				"error": err.Error(),
			})
			continue
		}
		sent++
		if r.opts.Bus != nil {
			_ = r.opts.Bus.PublishOutbound(bus.OutboundMessage{
				Peer:       bus.PeerOf(peer),
				Content:    content,
				RuleID:     sched.Rule.ID,
				ReplyIndex: replyIndex,
				Origin:     "schedule",
			})
		}
	}
	if sent > 0 && r.opts.Meters != nil {
		r.opts.Meters.RecordRuleHit(sched.Rule.ID)
	}

	logger.InfoCF("scheduler", "Scheduled rule fired", map[string]any{
		"rule": sched.Rule.ID,
		"sent": sent,
	})
	return sent
}
