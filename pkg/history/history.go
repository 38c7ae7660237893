// Package history keeps the recent conversation with each peer as
// context for generated replies.
package history

import (
	"sync"

	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
)

const DefaultSize = 10

// History is a bounded per-peer turn cache. Turns are pushed as
// user/assistant pairs; when a peer is at capacity the oldest pair is
// evicted before the new one is appended, so role pairing is preserved.
type History struct {
	mu    sync.Mutex
	size  int
	peers map[string][]protocoltypes.Message
}

func New(size int) *History {
	if size < 2 {
		size = DefaultSize
	}
	return &History{
		size:  size,
		peers: make(map[string][]protocoltypes.Message),
	}
}

// Get returns a copy of the turns recorded for peer, oldest first.
func (h *History) Get(peer string) []protocoltypes.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocoltypes.Message(nil), h.peers[peer]...)
}

// Push appends turns for peer, evicting the oldest pair while the result
// would exceed the cap.
func (h *History) Push(peer string, turns ...protocoltypes.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	record := h.peers[peer]
	for len(record) > 0 && len(record)+len(turns) > h.size {
		n := min(2, len(record))
		record = record[n:]
	}
	record = append(record, turns...)
	if len(record) > h.size {
		record = record[len(record)-h.size:]
	}
	h.peers[peer] = append([]protocoltypes.Message(nil), record...)
}

// PushExchange records one user message and the reply sent for it.
func (h *History) PushExchange(peer, user, assistant string) {
	h.Push(peer,
		protocoltypes.Message{Role: protocoltypes.RoleUser, Content: user},
		protocoltypes.Message{Role: protocoltypes.RoleAssistant, Content: assistant},
	)
}

func (h *History) Clear(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peer)
}

// Peers returns how many peers have recorded turns.
func (h *History) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *History) Size() int {
	return h.size
}
