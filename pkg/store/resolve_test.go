package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.Endpoints().Create(providers.Endpoint{ID: "ep", URL: "http://llm.local/v1", Protocol: providers.ProtocolOpenAI})
	require.NoError(t, err)
	_, err = s.Profiles().Create(providers.Profile{ID: "helper", Source: "ep", Model: "m", Token: "k"})
	require.NoError(t, err)
	_, err = s.Profiles().Create(providers.Profile{ID: "orphan", Source: "gone", Model: "m"})
	require.NoError(t, err)
	_, err = s.Groups().Create(rules.Group{ID: "vip", Members: []rules.Member{{UserName: "@old", Key: "alice"}}})
	require.NoError(t, err)
}

func TestResolveRunning_SkipsDisabledAndDangling(t *testing.T) {
	s := openTemp(t)
	seed(t, s)

	for _, r := range []rules.Rule{
		{ID: "tmpl", Enabled: true, GroupID: rules.GroupAll, Replies: []rules.Reply{{Type: rules.ReplyTemplate, Content: "hi"}}},
		{ID: "off", Enabled: false, GroupID: rules.GroupAll},
		{ID: "nogroup", Enabled: true, GroupID: "missing"},
		{ID: "noprofile", Enabled: true, GroupID: "vip", Replies: []rules.Reply{{Type: rules.ReplyGenerate, ProfileID: "nope"}}},
		{ID: "noendpoint", Enabled: true, GroupID: "vip", Replies: []rules.Reply{{Type: rules.ReplyGenerate, ProfileID: "orphan"}}},
		{ID: "gen", Enabled: true, GroupID: "vip", Replies: []rules.Reply{{Type: rules.ReplyGenerate, ProfileID: "helper"}}},
	} {
		_, err := s.Rules().Create(r)
		require.NoError(t, err)
	}

	running, err := s.ResolveRunning()
	require.NoError(t, err)
	require.Len(t, running, 2)

	assert.Equal(t, "tmpl", running[0].Rule.ID)
	assert.Equal(t, rules.GroupAll, running[0].Group.ID)
	assert.Nil(t, running[0].Replies[0].Binding)

	assert.Equal(t, "gen", running[1].Rule.ID)
	assert.Len(t, running[1].Group.Members, 1)
	require.NotNil(t, running[1].Replies[0].Binding)
	assert.Equal(t, "ep", running[1].Replies[0].Binding.Endpoint.ID)
	assert.Equal(t, "m", running[1].Replies[0].Binding.Profile.Model)
}

func TestResolveScheduled(t *testing.T) {
	s := openTemp(t)
	seed(t, s)

	_, err := s.Scheduled().Create(rules.ScheduledRule{
		Rule:   rules.Rule{ID: "daily", Enabled: true, GroupID: "vip", Replies: []rules.Reply{{Type: rules.ReplyGenerate, ProfileID: "helper"}}},
		Cron:   "@daily",
		Prompt: "write a greeting",
	})
	require.NoError(t, err)
	_, err = s.Scheduled().Create(rules.ScheduledRule{
		Rule: rules.Rule{ID: "broken", Enabled: true, GroupID: "nope"},
		Cron: "@hourly",
	})
	require.NoError(t, err)

	sched, err := s.ResolveScheduled()
	require.NoError(t, err)
	require.Len(t, sched, 1)
	assert.Equal(t, "daily", sched[0].Rule.ID)
	assert.Equal(t, "@daily", sched[0].Cron)
	assert.Equal(t, "write a greeting", sched[0].Prompt)
}

func TestRebindMembers(t *testing.T) {
	s := openTemp(t)
	seed(t, s)

	n, err := s.RebindMembers(map[string]rules.Member{
		"alice": {UserName: "@new", Key: "alice", NickName: "Alice"},
		"bob":   {UserName: "@bob", Key: "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := s.Groups().Get("vip")
	require.NoError(t, err)
	assert.Equal(t, "@new", g.Members[0].UserName)
	assert.Equal(t, "Alice", g.Members[0].NickName)

	n, err = s.RebindMembers(map[string]rules.Member{"alice": {UserName: "@new", Key: "alice"}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsReservedGroup(t *testing.T) {
	assert.True(t, IsReservedGroup(rules.GroupAllClassroom))
	assert.False(t, IsReservedGroup("vip"))
}

func TestBinding(t *testing.T) {
	s := openTemp(t)
	seed(t, s)

	b, err := s.Binding("helper")
	require.NoError(t, err)
	assert.Equal(t, "ep", b.Endpoint.ID)
	assert.Equal(t, "k", b.Profile.Token)

	_, err = s.Binding("orphan")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Binding("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
