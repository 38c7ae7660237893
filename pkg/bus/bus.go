package bus

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultBuffer = 100

// MessageBus fans events out to every subscriber. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type MessageBus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  atomic.Bool
	dropped atomic.Int64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{subs: make(map[int]chan Event)}
}

// PeerOf classifies a peer id by its group-chat prefix.
func PeerOf(id string) Peer {
	if strings.HasPrefix(id, "@@") {
		return Peer{Kind: "group", ID: id}
	}
	return Peer{Kind: "direct", ID: id}
}

func (mb *MessageBus) Publish(ev Event) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, ch := range mb.subs {
		select {
		case ch <- ev:
		default:
			mb.dropped.Add(1)
		}
	}
	return nil
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) error {
	return mb.Publish(Event{Kind: EventInbound, Inbound: &msg})
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) error {
	return mb.Publish(Event{Kind: EventOutbound, Outbound: &msg})
}

// Subscribe returns a channel of future events and a cancel func that
// unsubscribes and closes it. The channel is also closed by Close.
func (mb *MessageBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	mb.mu.Lock()
	if mb.closed.Load() {
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			mb.mu.Lock()
			defer mb.mu.Unlock()
			if c, ok := mb.subs[id]; ok {
				delete(mb.subs, id)
				close(c)
			}
		})
	}
}

// Dropped counts events a slow subscriber missed.
func (mb *MessageBus) Dropped() int64 {
	return mb.dropped.Load()
}

func (mb *MessageBus) Close() {
	if !mb.closed.CompareAndSwap(false, true) {
		return
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for id, ch := range mb.subs {
		delete(mb.subs, id)
		close(ch)
	}
}
