package store

import (
	"fmt"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
)

var reservedGroups = map[string]string{
	rules.GroupAll:           "Everyone",
	rules.GroupAllMembership: "All direct chats",
	rules.GroupAllAccount:    "All accounts",
	rules.GroupAllClassroom:  "All group chats",
}

// IsReservedGroup reports whether id names a built-in group that exists
// without a stored record.
func IsReservedGroup(id string) bool {
	_, ok := reservedGroups[id]
	return ok
}

type resolver struct {
	groups    map[string]rules.Group
	profiles  map[string]providers.Profile
	endpoints map[string]providers.Endpoint
}

func newResolver(d *Document) *resolver {
	r := &resolver{
		groups:    make(map[string]rules.Group, len(d.Groups)+len(reservedGroups)),
		profiles:  make(map[string]providers.Profile, len(d.Profiles)),
		endpoints: make(map[string]providers.Endpoint, len(d.Endpoints)),
	}
	for id, name := range reservedGroups {
		r.groups[id] = rules.Group{ID: id, Name: name}
	}
	for _, g := range d.Groups {
		r.groups[g.ID] = g
	}
	for _, p := range d.Profiles {
		r.profiles[p.ID] = p
	}
	for _, e := range d.Endpoints {
		r.endpoints[e.ID] = e
	}
	return r
}

func (r *resolver) binding(profileID string) (*providers.Binding, error) {
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", profileID, ErrNotFound)
	}
	e, ok := r.endpoints[p.Source]
	if !ok {
		return nil, fmt.Errorf("endpoint %q of profile %q: %w", p.Source, profileID, ErrNotFound)
	}
	return &providers.Binding{Profile: p, Endpoint: e}, nil
}

func (r *resolver) rule(rule rules.Rule) (rules.RunningRule, error) {
	g, ok := r.groups[rule.GroupID]
	if !ok {
		return rules.RunningRule{}, fmt.Errorf("group %q: %w", rule.GroupID, ErrNotFound)
	}
	replies := make([]rules.ResolvedReply, 0, len(rule.Replies))
	for _, reply := range rule.Replies {
		rr := rules.ResolvedReply{Reply: reply}
		if reply.Type == rules.ReplyGenerate {
			b, err := r.binding(reply.ProfileID)
			if err != nil {
				return rules.RunningRule{}, err
			}
			rr.Binding = b
		}
		replies = append(replies, rr)
	}
	return rules.RunningRule{Rule: rule, Group: g, Replies: replies}, nil
}

// ResolveRunning returns the enabled rules in stored order with their
// group and generation bindings looked up. A rule with a dangling
// reference is skipped with a warning.
func (s *Store) ResolveRunning() ([]rules.RunningRule, error) {
	var out []rules.RunningRule
	err := s.view(func(d *Document) error {
		r := newResolver(d)
		for _, rule := range d.Rules {
			if !rule.Enabled {
				continue
			}
			rr, err := r.rule(rule)
			if err != nil {
				logger.WarnCF("store", "Skipping rule with dangling reference", map[string]any{
					"rule":  rule.ID,
					"error": err.Error(),
				})
				continue
			}
			out = append(out, rr)
		}
		return nil
	})
	return out, err
}

// Binding looks up profileID and the endpoint it draws from.
func (s *Store) Binding(profileID string) (*providers.Binding, error) {
	var b *providers.Binding
	err := s.view(func(d *Document) error {
		var err error
		b, err = newResolver(d).binding(profileID)
		return err
	})
	return b, err
}

// ResolveScheduled is ResolveRunning for scheduled rules.
func (s *Store) ResolveScheduled() ([]rules.RunningSchedule, error) {
	var out []rules.RunningSchedule
	err := s.view(func(d *Document) error {
		r := newResolver(d)
		for _, sr := range d.Scheduled {
			if !sr.Enabled {
				continue
			}
			rr, err := r.rule(sr.Rule)
			if err != nil {
				logger.WarnCF("store", "Skipping scheduled rule with dangling reference", map[string]any{
					"rule":  sr.ID,
					"error": err.Error(),
				})
				continue
			}
			out = append(out, rules.RunningSchedule{RunningRule: rr, Cron: sr.Cron, Prompt: sr.Prompt})
		}
		return nil
	})
	return out, err
}

// RebindMembers refreshes the session-scoped user name of every stored
// group member whose Key appears in fresh. It returns the number of
// members changed. Members missing from fresh keep their old user name.
func (s *Store) RebindMembers(fresh map[string]rules.Member) (int, error) {
	changed := 0
	err := s.update(func(d *Document) error {
		for gi := range d.Groups {
			for mi, m := range d.Groups[gi].Members {
				cur, ok := fresh[m.Key]
				if !ok || (cur.UserName == m.UserName && (cur.NickName == "" || cur.NickName == m.NickName)) {
					continue
				}
				d.Groups[gi].Members[mi].UserName = cur.UserName
				if cur.NickName != "" {
					d.Groups[gi].Members[mi].NickName = cur.NickName
				}
				changed++
			}
		}
		return nil
	})
	if err == nil && changed > 0 {
		logger.InfoCF("store", "Group members rebound", map[string]any{"changed": changed})
	}
	return changed, err
}
