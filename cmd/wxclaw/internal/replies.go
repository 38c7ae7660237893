package internal

import (
	"errors"
	"fmt"

	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

// ReplyFlags are the reply fields shared by the rules and schedules
// commands.
type ReplyFlags struct {
	Keywords []string
	Content  string
	Profile  string
}

// Reply builds a generate reply when a profile is named, otherwise a
// template reply.
func (f ReplyFlags) Reply() (rules.Reply, error) {
	if f.Profile != "" {
		if f.Content != "" {
			return rules.Reply{}, errors.New("--content and --profile are mutually exclusive")
		}
		return rules.Reply{Type: rules.ReplyGenerate, ProfileID: f.Profile, Keywords: f.Keywords}, nil
	}
	if f.Content == "" {
		return rules.Reply{}, errors.New("one of --content or --profile is required")
	}
	return rules.Reply{Type: rules.ReplyTemplate, Keywords: f.Keywords, Content: f.Content}, nil
}

// CheckReferences fails when groupID or any reply profile does not exist.
func CheckReferences(st *store.Store, groupID string, replies []rules.Reply) error {
	if !store.IsReservedGroup(groupID) {
		if _, err := st.Groups().Get(groupID); err != nil {
			return err
		}
	}
	for _, r := range replies {
		if r.Type != rules.ReplyGenerate {
			continue
		}
		if _, err := st.Profiles().Get(r.ProfileID); err != nil {
			return err
		}
	}
	return nil
}

// DescribeReplies is a one-line summary for list output.
func DescribeReplies(replies []rules.Reply) string {
	var gen, tmpl int
	for _, r := range replies {
		if r.Type == rules.ReplyGenerate {
			gen++
		} else {
			tmpl++
		}
	}
	return fmt.Sprintf("%d template, %d generate", tmpl, gen)
}
