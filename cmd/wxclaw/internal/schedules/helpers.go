package schedules

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/scheduler"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

var now = time.Now

type addOptions struct {
	id       string
	name     string
	cron     string
	group    string
	prompt   string
	disabled bool
	reply    internal.ReplyFlags
}

func (o *addOptions) run(st *store.Store, out io.Writer, _ []string) error {
	next, err := scheduler.NextFire(o.cron, now())
	if err != nil {
		return err
	}
	reply, err := o.reply.Reply()
	if err != nil {
		return err
	}
	sr := rules.ScheduledRule{
		Rule: rules.Rule{
			ID:      o.id,
			Name:    o.name,
			Enabled: !o.disabled,
			GroupID: o.group,
			Replies: []rules.Reply{reply},
		},
		Cron:   o.cron,
		Prompt: o.prompt,
	}
	if err := internal.CheckReferences(st, sr.GroupID, sr.Replies); err != nil {
		return err
	}
	sr, err = st.Scheduled().Create(sr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Schedule %s added, next fire %s\n", sr.ID, next.Format(time.RFC3339))
	return nil
}

func listSchedules(st *store.Store, out io.Writer, _ []string) error {
	list, err := st.Scheduled().List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No scheduled rules.")
		return nil
	}
	ref := now()
	tw := internal.NewTable(out, "ID", "NAME", "CRON", "ENABLED", "GROUP", "NEXT")
	for _, s := range list {
		next := "invalid"
		if t, err := scheduler.NextFire(s.Cron, ref); err == nil {
			next = t.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Cron, strconv.FormatBool(s.Enabled), s.GroupID, next)
	}
	return tw.Flush()
}

func setEnabled(st *store.Store, out io.Writer, id string, enabled bool) error {
	s, err := st.Scheduled().Get(id)
	if err != nil {
		return err
	}
	s.Enabled = enabled
	if err := st.Scheduled().Update(s); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Schedule %s enabled=%t (takes effect on next run)\n", id, enabled)
	return nil
}

func removeSchedule(st *store.Store, out io.Writer, id string) error {
	if err := st.Scheduled().Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Schedule %s removed\n", id)
	return nil
}
