package rules

import (
	"context"
	"errors"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
)

// Completer produces the assistant turn for a generate reply.
type Completer interface {
	Complete(ctx context.Context, b providers.Binding, turns []protocoltypes.Message) (protocoltypes.Message, error)
}

// Outcome is the reply chosen for a message.
type Outcome struct {
	RuleID     string
	RuleName   string
	ReplyIndex int
	Type       ReplyType
	Content    string
}

// Engine picks the reply for an incoming message.
type Engine struct {
	completer Completer
}

func NewEngine(c Completer) *Engine {
	return &Engine{completer: c}
}

var errNoBinding = errors.New("generate reply has no resolved profile")

// Resolve produces the outgoing text of reply for the given turns, the
// last of which is the incoming message.
func (e *Engine) Resolve(ctx context.Context, reply ResolvedReply, turns []protocoltypes.Message) (string, error) {
	switch reply.Type {
	case ReplyGenerate:
		if reply.Binding == nil || e.completer == nil {
			return "", errNoBinding
		}
		out, err := e.completer.Complete(ctx, *reply.Binding, turns)
		if err != nil {
			return "", err
		}
		return out.Content, nil
	default:
		return reply.Content, nil
	}
}

// Match walks rules in order and returns the first reply that both hits
// and resolves to non-empty content. Disabled rules and rules whose group
// does not contain peer are skipped. A reply that resolves to nothing, or
// whose generation fails, does not stop the scan.
func (e *Engine) Match(ctx context.Context, running []RunningRule, peer, text string, history []protocoltypes.Message) (Outcome, bool) {
	turns := append(append([]protocoltypes.Message(nil), history...),
		protocoltypes.Message{Role: protocoltypes.RoleUser, Content: text})

	for _, rr := range running {
		if !rr.Rule.Enabled {
			continue
		}
		if !rr.Group.Hit(peer) {
			continue
		}
		for i, reply := range rr.Replies {
			if !reply.Hit(text) {
				continue
			}
			content, err := e.Resolve(ctx, reply, turns)
			if err != nil {
				logger.WarnCF("dispatch", "Reply resolution failed, trying next", map[string]any{
					"rule":  rr.Rule.ID,
					"reply": i,
					"error": err.Error(),
				})
				continue
			}
			if content == "" {
				continue
			}
			return Outcome{
				RuleID:     rr.Rule.ID,
				RuleName:   rr.Rule.Name,
				ReplyIndex: i,
				Type:       reply.Type,
				Content:    content,
			}, true
		}
	}
	return Outcome{}, false
}
