package status

import (
	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	var addr string
	var raw bool

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show the state of a running client",
		Args:    cobra.NoArgs,
		Example: `  wxclaw status
  wxclaw status --json
  wxclaw status --addr 127.0.0.1:18790`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return statusCmd(cmd, addr, raw)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Status server address (default: from config)")
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw status document")

	return cmd
}
