package rules

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage reply rules",
		Example: `  wxclaw rules list
  wxclaw rules add --name price --keyword price --content "10 yuan"
  wxclaw rules add --name chat --group friends --profile helper
  wxclaw rules reply price --keyword cost --content "still 10 yuan"
  wxclaw rules disable price`,
	}

	cmd.AddCommand(
		newListCommand(),
		newAddCommand(),
		newReplyCommand(),
		newToggleCommand("enable", true),
		newToggleCommand("disable", false),
		newRemoveCommand(),
	)

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE:  internal.WithStore(listRules),
	}
}

func newAddCommand() *cobra.Command {
	var o addOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a rule with its first reply",
		Args:  cobra.NoArgs,
		RunE:  internal.WithStore(o.run),
	}

	cmd.Flags().StringVar(&o.id, "id", "", "Rule id (default: generated)")
	cmd.Flags().StringVar(&o.name, "name", "", "Rule name")
	cmd.Flags().StringVarP(&o.group, "group", "g", rules.GroupAll, "Group id the rule applies to")
	cmd.Flags().BoolVar(&o.disabled, "disabled", false, "Store the rule disabled")
	addReplyFlags(cmd, &o.reply)
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newReplyCommand() *cobra.Command {
	var f internal.ReplyFlags

	cmd := &cobra.Command{
		Use:   "reply <rule-id>",
		Short: "Append a reply to an existing rule",
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return appendReply(st, out, args[0], f)
		}),
	}
	addReplyFlags(cmd, &f)

	return cmd
}

func newToggleCommand(use string, enabled bool) *cobra.Command {
	short := "Disable a rule"
	if enabled {
		short = "Enable a rule"
	}
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return setEnabled(st, out, args[0], enabled)
		}),
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <rule-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a rule",
		Args:    cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return removeRule(st, out, args[0])
		}),
	}
}

func addReplyFlags(cmd *cobra.Command, f *internal.ReplyFlags) {
	cmd.Flags().StringSliceVarP(&f.Keywords, "keyword", "k", nil, "Keyword that triggers a template reply (repeatable)")
	cmd.Flags().StringVarP(&f.Content, "content", "c", "", "Fixed reply text")
	cmd.Flags().StringVarP(&f.Profile, "profile", "p", "", "Generation profile for a generated reply")
}
