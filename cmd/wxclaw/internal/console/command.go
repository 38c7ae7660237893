package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var message, peer string
	var debug bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Try rules against typed messages without sending anything",
		Long: `Each line is matched against the enabled rules as if it came from --peer.
Generated replies call the configured profiles. Nothing is sent.

Lines starting with ":" are console commands:
  :peer <id>   switch the simulated sender (use @@ for a group chat)
  :clear       forget the conversation history of the current peer
  :rules       list enabled rules in evaluation order`,
		Args: cobra.NoArgs,
		Example: `  wxclaw console
  wxclaw console --peer @@room
  wxclaw console -m "what is the price"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return consoleCmd(cmd, message, peer, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Match one message and exit")
	cmd.Flags().StringVar(&peer, "peer", defaultPeer, "Simulated sender id")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
