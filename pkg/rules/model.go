package rules

import (
	"strings"

	"github.com/tinyland-inc/wxclaw/pkg/providers"
)

// Reserved group ids that match by conversation kind instead of by an
// explicit member list.
const (
	GroupAll           = "all"
	GroupAllMembership = "all_membership"
	GroupAllAccount    = "all_account"
	GroupAllClassroom  = "all_classroom"
)

// MultiPartyPrefix marks group-chat peer ids.
const MultiPartyPrefix = "@@"

// Member is one explicit group member. UserName is only valid for the
// current login; Key survives re-login and is used to rebind UserName.
type Member struct {
	UserName string `json:"user_name"`
	Key      string `json:"key"`
	NickName string `json:"nick_name,omitempty"`
}

type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Members  []Member `json:"members,omitempty"`
	Operator string   `json:"operator,omitempty"`
}

// Hit reports whether a message from peer belongs to the group. A group
// with members matches exactly those members, whatever its id; otherwise
// the reserved id decides.
func (g Group) Hit(peer string) bool {
	if len(g.Members) > 0 {
		for _, m := range g.Members {
			if m.UserName == peer {
				return true
			}
		}
		return false
	}

	switch g.ID {
	case GroupAll:
		return true
	case GroupAllMembership, GroupAllAccount:
		return !strings.HasPrefix(peer, MultiPartyPrefix)
	case GroupAllClassroom:
		return strings.HasPrefix(peer, MultiPartyPrefix)
	default:
		return false
	}
}

type ReplyType string

const (
	ReplyTemplate ReplyType = "template"
	ReplyGenerate ReplyType = "generate"
)

type Reply struct {
	Type ReplyType `json:"type"`
	// Keywords gate a template reply. Empty matches any text.
	Keywords []string `json:"keywords,omitempty"`
	Content  string   `json:"content,omitempty"`
	// ProfileID names the generation profile of a generate reply.
	ProfileID string `json:"profile_id,omitempty"`
}

// Hit reports whether the reply applies to text. Generate replies always
// apply; template replies need one keyword as a case-sensitive substring.
func (r Reply) Hit(text string) bool {
	if r.Type == ReplyGenerate {
		return true
	}
	if len(r.Keywords) == 0 {
		return true
	}
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

type Rule struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Enabled bool    `json:"enabled"`
	GroupID string  `json:"group_id"`
	Replies []Reply `json:"replies"`
}

// ScheduledRule fires on a cron schedule instead of on incoming messages.
// Prompt is the user turn sent to the backend for generate replies.
type ScheduledRule struct {
	Rule
	Cron   string `json:"cron"`
	Prompt string `json:"prompt,omitempty"`
}

// ResolvedReply is a reply with its generation binding looked up.
type ResolvedReply struct {
	Reply
	Binding *providers.Binding
}

// RunningRule is an enabled rule with every reference resolved.
type RunningRule struct {
	Rule    Rule
	Group   Group
	Replies []ResolvedReply
}

// RunningSchedule is an enabled scheduled rule with its references
// resolved.
type RunningSchedule struct {
	RunningRule
	Cron   string
	Prompt string
}
