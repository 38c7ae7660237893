// Package supervisor keeps a long-running task alive: it restarts the task
// when it stops reporting progress and stops for good on terminal errors.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Task is one generation of supervised work. It must call beat after each
// unit of progress and return promptly once ctx is done.
type Task func(ctx context.Context, beat func()) error

const (
	DefaultStallTimeout = 60 * time.Second
	DefaultGrace        = 5 * time.Second
	DefaultRestartDelay = time.Second
)

type Options struct {
	StallTimeout time.Duration
	RestartDelay time.Duration

	// Grace is how long a cancelled generation may take to exit before
	// a warning is logged. At shutdown it bounds the wait.
	Grace time.Duration

	// Terminal reports errors that end supervision. Any other error
	// restarts the task.
	Terminal func(error) bool

	// Name labels log lines.
	Name string
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State      State     `json:"state"`
	Generation int       `json:"generation"`
	Restarts   int       `json:"restarts"`
	LastBeat   time.Time `json:"last_beat,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

type Supervisor struct {
	task Task
	opts Options

	mu     sync.RWMutex
	status Status
}

func New(task Task, opts Options) *Supervisor {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.RestartDelay < 0 {
		opts.RestartDelay = 0
	}
	if opts.Terminal == nil {
		opts.Terminal = func(error) bool { return false }
	}
	if opts.Name == "" {
		opts.Name = "task"
	}
	return &Supervisor{task: task, opts: opts}
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

// Run supervises the task until ctx is done, the task returns nil, or the
// task returns a terminal error, which Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		restart, err := s.generation(ctx)
		if !restart {
			s.update(func(st *Status) { st.State = StateStopped })
			return err
		}

		s.update(func(st *Status) {
			st.State = StateRestarting
			st.Restarts++
		})
		if s.opts.RestartDelay > 0 {
			select {
			case <-ctx.Done():
				s.update(func(st *Status) { st.State = StateStopped })
				return ctx.Err()
			case <-time.After(s.opts.RestartDelay):
			}
		}
	}
}

// generation runs one task instance. It reports whether another
// generation should follow and the error to return if not.
func (s *Supervisor) generation(ctx context.Context) (bool, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	beats := make(chan struct{}, 1)
	done := make(chan error, 1)

	var gen int
	s.update(func(st *Status) {
		st.Generation++
		gen = st.Generation
		st.State = StateRunning
		st.LastBeat = time.Now()
	})
	logger.InfoCF("supervisor", "Starting generation", map[string]any{"task": s.opts.Name, "generation": gen})

	go func() {
		done <- s.task(genCtx, func() {
			select {
			case beats <- struct{}{}:
			default:
			}
		})
	}()

	stall := time.NewTimer(s.opts.StallTimeout)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			graceCtx, stop := context.WithTimeout(context.Background(), s.opts.Grace)
			if exited, _ := s.await(graceCtx, done, gen); !exited {
				logger.WarnCF("supervisor", "Abandoning generation at shutdown", map[string]any{
					"task":       s.opts.Name,
					"generation": gen,
				})
			}
			stop()
			return false, ctx.Err()

		case <-beats:
			s.update(func(st *Status) { st.LastBeat = time.Now() })
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(s.opts.StallTimeout)

		case err := <-done:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if err == nil {
				logger.InfoCF("supervisor", "Task finished", map[string]any{"task": s.opts.Name, "generation": gen})
				return false, nil
			}
			s.update(func(st *Status) { st.LastError = err.Error() })
			if s.opts.Terminal(err) {
				logger.ErrorCF("supervisor", "Task failed terminally", map[string]any{
					"task":       s.opts.Name,
					"generation": gen,
					"error":      err.Error(),
				})
				return false, err
			}
			logger.WarnCF("supervisor", "Task failed, restarting", map[string]any{
				"task":       s.opts.Name,
				"generation": gen,
				"error":      err.Error(),
			})
			return true, nil

		case <-stall.C:
			logger.WarnCF("supervisor", "Task stalled, restarting", map[string]any{
				"task":          s.opts.Name,
				"generation":    gen,
				"stall_timeout": s.opts.StallTimeout.String(),
			})
			s.update(func(st *Status) { st.LastError = errStalled.Error() })
			cancel()
			s.update(func(st *Status) { st.State = StateRestarting })
			exited, err := s.await(ctx, done, gen)
			if !exited {
				return false, ctx.Err()
			}
			if err != nil && s.opts.Terminal(err) {
				s.update(func(st *Status) { st.LastError = err.Error() })
				return false, err
			}
			return true, nil
		}
	}
}

var errStalled = errors.New("no progress within stall timeout")

// await waits for a cancelled generation to exit, so that the next one
// never overlaps it. It warns once the grace period passes and gives up
// only when ctx is done.
func (s *Supervisor) await(ctx context.Context, done <-chan error, gen int) (bool, error) {
	grace := time.NewTimer(s.opts.Grace)
	defer grace.Stop()

	for {
		select {
		case err := <-done:
			return true, err
		case <-grace.C:
			logger.WarnCF("supervisor", "Generation still running after grace period", map[string]any{
				"task":       s.opts.Name,
				"generation": gen,
			})
		case <-ctx.Done():
			return false, nil
		}
	}
}
