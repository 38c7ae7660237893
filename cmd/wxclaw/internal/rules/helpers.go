package rules

import (
	"fmt"
	"io"
	"strconv"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

type addOptions struct {
	id       string
	name     string
	group    string
	disabled bool
	reply    internal.ReplyFlags
}

func (o *addOptions) run(st *store.Store, out io.Writer, _ []string) error {
	reply, err := o.reply.Reply()
	if err != nil {
		return err
	}
	rule := rules.Rule{
		ID:      o.id,
		Name:    o.name,
		Enabled: !o.disabled,
		GroupID: o.group,
		Replies: []rules.Reply{reply},
	}
	if err := internal.CheckReferences(st, rule.GroupID, rule.Replies); err != nil {
		return err
	}
	rule, err = st.Rules().Create(rule)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Rule %s added (%s)\n", rule.ID, rule.Name)
	return nil
}

func listRules(st *store.Store, out io.Writer, _ []string) error {
	list, err := st.Rules().List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No rules.")
		return nil
	}
	tw := internal.NewTable(out, "ID", "NAME", "ENABLED", "GROUP", "REPLIES")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, strconv.FormatBool(r.Enabled), r.GroupID, internal.DescribeReplies(r.Replies))
	}
	return tw.Flush()
}

func appendReply(st *store.Store, out io.Writer, id string, f internal.ReplyFlags) error {
	reply, err := f.Reply()
	if err != nil {
		return err
	}
	rule, err := st.Rules().Get(id)
	if err != nil {
		return err
	}
	if err := internal.CheckReferences(st, rule.GroupID, []rules.Reply{reply}); err != nil {
		return err
	}
	rule.Replies = append(rule.Replies, reply)
	if err := st.Rules().Update(rule); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Rule %s now has %d replies\n", rule.ID, len(rule.Replies))
	return nil
}

func setEnabled(st *store.Store, out io.Writer, id string, enabled bool) error {
	rule, err := st.Rules().Get(id)
	if err != nil {
		return err
	}
	rule.Enabled = enabled
	if err := st.Rules().Update(rule); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(out, "✓ Rule %s %s\n", id, state)
	return nil
}

func removeRule(st *store.Store, out io.Writer, id string) error {
	if err := st.Rules().Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Rule %s removed\n", id)
	return nil
}
