package groups

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

func NewGroupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage contact groups rules apply to",
		Example: `  wxclaw groups list
  wxclaw groups add friends --name Friends --member alice --member bob=@a1b2
  wxclaw groups members friends --add carol --drop bob
  wxclaw groups remove friends`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored and reserved groups",
			Args:  cobra.NoArgs,
			RunE:  internal.WithStore(listGroups),
		},
		newAddCommand(),
		newMembersCommand(),
		&cobra.Command{
			Use:     "remove <group-id>",
			Aliases: []string{"rm"},
			Short:   "Delete a group no rule refers to",
			Args:    cobra.ExactArgs(1),
			RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
				return removeGroup(st, out, args[0])
			}),
		},
	)

	return cmd
}

func newAddCommand() *cobra.Command {
	var name string
	var members []string

	cmd := &cobra.Command{
		Use:   "add <group-id>",
		Short: "Create a group of explicit members",
		Long: `Members are given as KEY or KEY=USERNAME. KEY is the contact's stable
pinyin key; USERNAME is refreshed from the contact list on every login.`,
		Args: cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return addGroup(st, out, args[0], name, members)
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringArrayVarP(&members, "member", "m", nil, "Member as KEY or KEY=USERNAME (repeatable)")

	return cmd
}

func newMembersCommand() *cobra.Command {
	var add, drop []string

	cmd := &cobra.Command{
		Use:   "members <group-id>",
		Short: "Add or drop group members",
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			return editMembers(st, out, args[0], add, drop)
		}),
	}

	cmd.Flags().StringArrayVar(&add, "add", nil, "Member to add as KEY or KEY=USERNAME (repeatable)")
	cmd.Flags().StringArrayVar(&drop, "drop", nil, "Key of a member to drop (repeatable)")

	return cmd
}
