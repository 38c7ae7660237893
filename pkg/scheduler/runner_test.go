package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wxclaw/pkg/bus"
	"github.com/tinyland-inc/wxclaw/pkg/metering"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func newSender() *recordingSender {
	return &recordingSender{sent: map[string][]string{}, fail: map[string]bool{}}
}

func (s *recordingSender) SendText(_ context.Context, to, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return errors.New("send failed")
	}
	s.sent[to] = append(s.sent[to], content)
	return nil
}

func (s *recordingSender) count(to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[to])
}

type fixedPeers []string

func (p fixedPeers) Peers(g rules.Group) []string {
	var out []string
	for _, peer := range p {
		if g.Hit(peer) {
			out = append(out, peer)
		}
	}
	return out
}

type promptCompleter struct{ prompts []string }

func (c *promptCompleter) Complete(_ context.Context, _ providers.Binding, turns []protocoltypes.Message) (protocoltypes.Message, error) {
	c.prompts = append(c.prompts, turns[len(turns)-1].Content)
	return protocoltypes.Message{Role: protocoltypes.RoleAssistant, Content: "good morning"}, nil
}

func schedule(id, cron string, group rules.Group, replies ...rules.ResolvedReply) rules.RunningSchedule {
	return rules.RunningSchedule{
		RunningRule: rules.RunningRule{
			Rule:    rules.Rule{ID: id, Name: id, Enabled: true, GroupID: group.ID},
			Group:   group,
			Replies: replies,
		},
		Cron: cron,
	}
}

func template(content string) rules.ResolvedReply {
	return rules.ResolvedReply{Reply: rules.Reply{Type: rules.ReplyTemplate, Content: content}}
}

func TestNextFire(t *testing.T) {
	ref := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

	next, err := NextFire("0 9 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)

	next, err = NextFire("0 9 * * *", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next, "ref time itself is excluded")

	next, err = NextFire("@hourly", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)

	_, err = NextFire("not a cron", ref)
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestRunner_InvalidCronNotStarted(t *testing.T) {
	r := NewRunner(rules.NewEngine(nil), newSender(), fixedPeers{}, Options{})
	err := r.Start(context.Background(), schedule("bad", "every tuesday", rules.Group{ID: rules.GroupAll}))
	require.ErrorIs(t, err, ErrInvalidCron)

	exec, err := r.GetStatus("bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.NotEmpty(t, exec.Error)
	assert.Error(t, r.Stop("bad"))
}

func TestRunner_StartStop(t *testing.T) {
	r := NewRunner(rules.NewEngine(nil), newSender(), fixedPeers{}, Options{})
	sched := schedule("daily", "0 9 * * *", rules.Group{ID: rules.GroupAll}, template("hi"))

	require.NoError(t, r.Start(context.Background(), sched))
	assert.ErrorIs(t, r.Start(context.Background(), sched), ErrAlreadyRunning)

	exec, err := r.GetStatus("daily")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, exec.Status)
	assert.True(t, exec.NextFire.After(time.Now()))

	require.NoError(t, r.Stop("daily"))
	exec, _ = r.GetStatus("daily")
	assert.Equal(t, StatusStopped, exec.Status)
	assert.Error(t, r.Stop("daily"))
	assert.ErrorIs(t, r.Stop("unknown"), ErrNotScheduled)

	r.StopAll()
	assert.Len(t, r.ListExecutions(), 1)
}

func TestRunner_FiresToGroupPeers(t *testing.T) {
	sender := newSender()
	sender.fail["@carol"] = true
	mb := bus.NewMessageBus()
	events, cancel := mb.Subscribe(16)
	defer cancel()
	meters := metering.NewMeterStore()

	r := NewRunner(rules.NewEngine(nil), sender, fixedPeers{"@alice", "@carol", "@@room"}, Options{Bus: mb, Meters: meters})

	// Pin the clock just before a minute boundary so the first tick is
	// a few milliseconds away, and every recomputation lands on it again.
	boundary := time.Now().Truncate(time.Minute).Add(time.Minute)
	r.now = func() time.Time { return boundary.Add(-5 * time.Millisecond) }

	sched := schedule("ping", "* * * * *", rules.Group{ID: rules.GroupAllMembership}, template(""), template("ping"))
	require.NoError(t, r.Start(context.Background(), sched))

	require.Eventually(t, func() bool { return sender.count("@alice") >= 2 }, 2*time.Second, 5*time.Millisecond)
	r.StopAll()

	assert.Zero(t, sender.count("@@room"), "group chats are outside all_membership")
	assert.Zero(t, sender.count("@carol"))

	exec, err := r.GetStatus("ping")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exec.Fires, 2)
	assert.GreaterOrEqual(t, exec.Sent, 2)
	assert.Equal(t, StatusStopped, exec.Status)

	ev := <-events
	assert.Equal(t, bus.EventOutbound, ev.Kind)
	assert.Equal(t, "schedule", ev.Outbound.Origin)
	assert.Equal(t, 1, ev.Outbound.ReplyIndex)
	assert.GreaterOrEqual(t, meters.Snapshot().Rules["ping"].Hits, int64(2))
}

func TestRunner_FireUsesPromptForGeneration(t *testing.T) {
	completer := &promptCompleter{}
	sender := newSender()
	r := NewRunner(rules.NewEngine(completer), sender, fixedPeers{"@alice"}, Options{})

	sched := schedule("gen", "@daily", rules.Group{ID: rules.GroupAll}, rules.ResolvedReply{
		Reply:   rules.Reply{Type: rules.ReplyGenerate, ProfileID: "p"},
		Binding: &providers.Binding{Profile: providers.Profile{ID: "p"}},
	})
	sched.Prompt = "write a greeting"

	assert.Equal(t, 1, r.fire(context.Background(), sched))
	assert.Equal(t, []string{"write a greeting"}, completer.prompts)
	assert.Equal(t, []string{"good morning"}, sender.sent["@alice"])
}

func TestRunner_FireWithNoContentSendsNothing(t *testing.T) {
	sender := newSender()
	r := NewRunner(rules.NewEngine(nil), sender, fixedPeers{"@alice"}, Options{})
	assert.Zero(t, r.fire(context.Background(), schedule("empty", "@daily", rules.Group{ID: rules.GroupAll}, template(""))))
	assert.Zero(t, sender.count("@alice"))
}

type staticSchedules []rules.RunningSchedule

func (s staticSchedules) ResolveScheduled() ([]rules.RunningSchedule, error) { return s, nil }

func TestRunner_StartAllSkipsBadCron(t *testing.T) {
	r := NewRunner(rules.NewEngine(nil), newSender(), fixedPeers{}, Options{})
	n, err := r.StartAll(context.Background(), staticSchedules{
		schedule("a", "@daily", rules.Group{ID: rules.GroupAll}),
		schedule("b", "nope", rules.Group{ID: rules.GroupAll}),
		schedule("c", "30 18 * * 1-5", rules.Group{ID: rules.GroupAll}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, r.ListExecutions(), 3)
	r.StopAll()
}
