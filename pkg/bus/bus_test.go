package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBus_FanOut(t *testing.T) {
	mb := NewMessageBus()
	a, cancelA := mb.Subscribe(4)
	b, cancelB := mb.Subscribe(4)
	defer cancelA()
	defer cancelB()

	require.NoError(t, mb.PublishInbound(InboundMessage{MessageID: "1", Peer: PeerOf("@alice"), Content: "hi"}))

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EventInbound, ev.Kind)
		assert.False(t, ev.Time.IsZero())
		require.NotNil(t, ev.Inbound)
		assert.Equal(t, "direct", ev.Inbound.Peer.Kind)
	}
}

func TestMessageBus_SlowSubscriberDrops(t *testing.T) {
	mb := NewMessageBus()
	ch, cancel := mb.Subscribe(1)
	defer cancel()

	require.NoError(t, mb.PublishOutbound(OutboundMessage{Content: "one"}))
	require.NoError(t, mb.PublishOutbound(OutboundMessage{Content: "two"}))

	ev := <-ch
	assert.Equal(t, "one", ev.Outbound.Content)
	assert.Equal(t, int64(1), mb.Dropped())
}

func TestMessageBus_CancelAndClose(t *testing.T) {
	mb := NewMessageBus()
	ch, cancel := mb.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := mb.Subscribe(1)
	mb.Close()
	_, ok = <-other
	assert.False(t, ok)

	assert.ErrorIs(t, mb.Publish(Event{Kind: EventCycle}), ErrBusClosed)

	late, _ := mb.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestPeerOf(t *testing.T) {
	assert.Equal(t, Peer{Kind: "group", ID: "@@room"}, PeerOf("@@room"))
	assert.Equal(t, Peer{Kind: "direct", ID: "filehelper"}, PeerOf("filehelper"))
}
