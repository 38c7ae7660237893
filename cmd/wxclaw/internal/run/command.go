package run

import (
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var debug bool
	var noStatus bool

	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"r"},
		Short:   "Log in by QR code and start auto-replying",
		Args:    cobra.NoArgs,
		Example: `  wxclaw run
  wxclaw run --debug
  wxclaw run --no-status`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCmd(cmd, debug, noStatus)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noStatus, "no-status", false, "Do not start the status server")

	return cmd
}
