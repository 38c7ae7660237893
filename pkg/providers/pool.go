package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/wxclaw/pkg/retry"
)

const DefaultTimeout = 30 * time.Second

// UsageRecorder is told about every generation call.
type UsageRecorder interface {
	RecordGeneration(profileID, model string, usage *UsageInfo, err error)
}

type GeneratorFactory func(ctx context.Context, b Binding, hc *http.Client) (Generator, error)

// Pool caches one Generator per endpoint credential and runs bounded
// generation calls against them.
type Pool struct {
	timeout time.Duration
	hc      *http.Client
	usage   UsageRecorder
	factory GeneratorFactory

	mu   sync.Mutex
	gens map[string]Generator
}

type PoolOption func(*Pool)

func WithHTTPClient(hc *http.Client) PoolOption {
	return func(p *Pool) { p.hc = hc }
}

func WithUsageRecorder(r UsageRecorder) PoolOption {
	return func(p *Pool) { p.usage = r }
}

func WithFactory(f GeneratorFactory) PoolOption {
	return func(p *Pool) { p.factory = f }
}

func NewPool(timeout time.Duration, opts ...PoolOption) *Pool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Pool{
		timeout: timeout,
		factory: NewGenerator,
		gens:    make(map[string]Generator),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func bindingKey(b Binding) string {
	return strings.Join([]string{b.Endpoint.ID, b.Endpoint.Protocol, b.Endpoint.URL, b.Profile.Token}, "\x00")
}

func (p *Pool) generator(b Binding) (Generator, error) {
	key := bindingKey(b)

	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gens[key]; ok {
		return g, nil
	}
	// The token source outlives any single request.
	g, err := p.factory(context.Background(), b, p.hc)
	if err != nil {
		return nil, err
	}
	p.gens[key] = g
	return g, nil
}

// Complete asks b's backend for the next assistant turn. The profile's
// system prompt, when set, is prepended to turns. The call is bounded by
// the pool timeout.
//
// Transport failures and timeouts are returned as errors. Any other
// failure (an error body, a response that does not decode) yields the
// fixed diagnostic turn.
func (p *Pool) Complete(ctx context.Context, b Binding, turns []Message) (Message, error) {
	gen, err := p.generator(b)
	if err != nil {
		return Message{}, err
	}

	messages := make([]Message, 0, len(turns)+1)
	if b.Profile.Prompt != "" {
		messages = append(messages, Message{Role: protocoltypes.RoleSystem, Content: b.Profile.Prompt})
	}
	messages = append(messages, turns...)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := gen.Generate(ctx, b.Profile.Model, messages)
	if p.usage != nil {
		var usage *UsageInfo
		if resp != nil {
			usage = resp.Usage
		}
		p.usage.RecordGeneration(b.Profile.ID, b.Profile.Model, usage, err)
	}

	if err != nil {
		if retry.IsTransport(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return Message{}, fmt.Errorf("generation via %s: %w", b.Endpoint.ID, err)
		}
		logger.WarnCF("provider", "Generation failed, substituting diagnostic reply", map[string]any{
			"profile":  b.Profile.ID,
			"endpoint": b.Endpoint.ID,
			"error":    err.Error(),
		})
		return DiagnosticTurn(), nil
	}

	logger.DebugCF("provider", "Generation complete", map[string]any{
		"profile":  b.Profile.ID,
		"model":    b.Profile.Model,
		"duration": time.Since(start).String(),
		"length":   len(resp.Content),
	})
	return Message{Role: protocoltypes.RoleAssistant, Content: resp.Content}, nil
}
