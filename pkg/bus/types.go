package bus

import "time"

// Peer identifies the conversation a message belongs to.
type Peer struct {
	Kind string `json:"kind"` // "direct" | "group"
	ID   string `json:"id"`
}

type InboundMessage struct {
	MessageID string `json:"message_id"`
	Peer      Peer   `json:"peer"`
	NickName  string `json:"nick_name,omitempty"`
	Content   string `json:"content"`
}

type OutboundMessage struct {
	Peer       Peer   `json:"peer"`
	Content    string `json:"content"`
	RuleID     string `json:"rule_id"`
	ReplyIndex int    `json:"reply_index"`
	Origin     string `json:"origin"` // "message" | "schedule"
}

type EventKind string

const (
	EventInbound  EventKind = "inbound"
	EventOutbound EventKind = "outbound"
	EventSession  EventKind = "session"
	EventCycle    EventKind = "cycle"
)

// Event is one observable step of the running client.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Time     time.Time        `json:"time"`
	Inbound  *InboundMessage  `json:"inbound,omitempty"`
	Outbound *OutboundMessage `json:"outbound,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}
