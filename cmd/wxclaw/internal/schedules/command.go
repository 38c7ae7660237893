package schedules

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

func NewSchedulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"cron"},
		Short:   "Manage rules that send on a cron schedule",
		Example: `  wxclaw schedules add --name morning --cron "0 9 * * 1-5" --group friends --content "good morning"
  wxclaw schedules add --name digest --cron @daily --profile helper --prompt "write a short greeting"
  wxclaw schedules list`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List scheduled rules with their next fire time",
			Args:  cobra.NoArgs,
			RunE:  internal.WithStore(listSchedules),
		},
		newAddCommand(),
		newToggleCommand("enable", true),
		newToggleCommand("disable", false),
		&cobra.Command{
			Use:     "remove <schedule-id>",
			Aliases: []string{"rm"},
			Short:   "Delete a scheduled rule",
			Args:    cobra.ExactArgs(1),
			RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
				return removeSchedule(st, out, args[0])
			}),
		},
	)

	return cmd
}

func newAddCommand() *cobra.Command {
	var o addOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a scheduled rule",
		Args:  cobra.NoArgs,
		RunE:  internal.WithStore(o.run),
	}

	cmd.Flags().StringVar(&o.id, "id", "", "Schedule id (default: generated)")
	cmd.Flags().StringVar(&o.name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&o.cron, "cron", "", "Cron expression, e.g. \"0 9 * * *\" or @hourly")
	cmd.Flags().StringVarP(&o.group, "group", "g", rules.GroupAll, "Group whose members receive the message")
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "User turn sent to the profile of a generated reply")
	cmd.Flags().BoolVar(&o.disabled, "disabled", false, "Store the schedule disabled")
	cmd.Flags().StringVarP(&o.reply.Content, "content", "c", "", "Fixed message text")
	cmd.Flags().StringVarP(&o.reply.Profile, "profile", "p", "", "Generation profile for a generated message")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}

func newToggleCommand(use string, enabled bool) *cobra.Command {
	short := "Disable a scheduled rule"
	if enabled {
		short = "Enable a scheduled rule"
	}
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return setEnabled(st, out, args[0], enabled)
		}),
	}
}
