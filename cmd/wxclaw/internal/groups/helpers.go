package groups

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

var reserved = []string{rules.GroupAll, rules.GroupAllMembership, rules.GroupAllAccount, rules.GroupAllClassroom}

func parseMember(s string) (rules.Member, error) {
	key, userName, _ := strings.Cut(strings.TrimSpace(s), "=")
	if key == "" {
		return rules.Member{}, fmt.Errorf("member %q has no key", s)
	}
	return rules.Member{Key: key, UserName: userName}, nil
}

func parseMembers(specs []string) ([]rules.Member, error) {
	out := make([]rules.Member, 0, len(specs))
	for _, s := range specs {
		m, err := parseMember(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func addGroup(st *store.Store, out io.Writer, id, name string, specs []string) error {
	if store.IsReservedGroup(id) {
		return fmt.Errorf("%q is a reserved group", id)
	}
	members, err := parseMembers(specs)
	if err != nil {
		return err
	}
	if name == "" {
		name = id
	}
	if _, err := st.Groups().Create(rules.Group{ID: id, Name: name, Members: members}); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Group %s added with %d members\n", id, len(members))
	return nil
}

func editMembers(st *store.Store, out io.Writer, id string, add, drop []string) error {
	if len(add) == 0 && len(drop) == 0 {
		return errors.New("nothing to change: pass --add or --drop")
	}
	added, err := parseMembers(add)
	if err != nil {
		return err
	}
	g, err := st.Groups().Get(id)
	if err != nil {
		return err
	}

	g.Members = slices.DeleteFunc(g.Members, func(m rules.Member) bool {
		return slices.Contains(drop, m.Key)
	})
	for _, m := range added {
		i := slices.IndexFunc(g.Members, func(x rules.Member) bool { return x.Key == m.Key })
		if i >= 0 {
			g.Members[i] = m
			continue
		}
		g.Members = append(g.Members, m)
	}

	if err := st.Groups().Update(g); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Group %s now has %d members\n", id, len(g.Members))
	return nil
}

func listGroups(st *store.Store, out io.Writer, _ []string) error {
	list, err := st.Groups().List()
	if err != nil {
		return err
	}
	tw := internal.NewTable(out, "ID", "NAME", "MEMBERS")
	for _, id := range reserved {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, "(reserved)", "-")
	}
	for _, g := range list {
		keys := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			keys = append(keys, m.Key)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, strings.Join(keys, ","))
	}
	return tw.Flush()
}

// removeGroup refuses while rules still point at the group, since those
// rules would silently stop resolving.
func removeGroup(st *store.Store, out io.Writer, id string) error {
	if store.IsReservedGroup(id) {
		return fmt.Errorf("%q is a reserved group", id)
	}
	doc, err := st.Snapshot()
	if err != nil {
		return err
	}
	var users []string
	for _, r := range doc.Rules {
		if r.GroupID == id {
			users = append(users, r.ID)
		}
	}
	for _, r := range doc.Scheduled {
		if r.GroupID == id {
			users = append(users, r.ID)
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("group %s is used by %s", id, strings.Join(users, ", "))
	}

	if err := st.Groups().Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Group %s removed\n", id)
	return nil
}
