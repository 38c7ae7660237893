package profiles

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

func NewProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage generation profiles and their endpoints",
		Example: `  wxclaw profiles endpoints add llm --url https://api.openai.com/v1 --protocol openai
  wxclaw profiles add helper --endpoint llm --model gpt-4o-mini
  wxclaw profiles test helper
  wxclaw profiles list`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List generation profiles",
			Args:  cobra.NoArgs,
			RunE:  internal.WithStore(listProfiles),
		},
		newAddCommand(),
		&cobra.Command{
			Use:     "remove <profile-id>",
			Aliases: []string{"rm"},
			Short:   "Delete a profile no reply refers to",
			Args:    cobra.ExactArgs(1),
			RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
				return removeProfile(st, out, args[0])
			}),
		},
		newTestCommand(),
		newEndpointsCommand(),
	)

	return cmd
}

func newTestCommand() *cobra.Command {
	var (
		message string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "test <profile-id>",
		Short: "Send one message through a profile and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := internal.OpenStore()
			if err != nil {
				return err
			}
			pool := providers.NewPool(timeout)
			return testProfile(cmd.Context(), st, pool, cmd.OutOrStdout(), args[0], message)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", defaultTestMessage, "User message to send")
	cmd.Flags().DurationVar(&timeout, "timeout", providers.DefaultTimeout, "Generation timeout")

	return cmd
}

func newAddCommand() *cobra.Command {
	var p providers.Profile

	cmd := &cobra.Command{
		Use:   "add <profile-id>",
		Short: "Create a generation profile",
		Long:  "Without --token the API key is read from standard input.",
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			p.ID = args[0]
			return addProfile(st, out, p, stdin)
		}),
	}

	cmd.Flags().StringVar(&p.Name, "name", "", "Display name")
	cmd.Flags().StringVarP(&p.Source, "endpoint", "e", "", "Endpoint id")
	cmd.Flags().StringVar(&p.Model, "model", "", "Model name")
	cmd.Flags().StringVar(&p.Token, "token", "", "API key")
	cmd.Flags().StringVar(&p.Prompt, "prompt", "", "System prompt prepended to every conversation")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func newEndpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoints",
		Aliases: []string{"ep"},
		Short:   "Manage generation endpoints",
	}

	var e providers.Endpoint
	var oauth providers.OAuth

	add := &cobra.Command{
		Use:   "add <endpoint-id>",
		Short: "Create a generation endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
			e.ID = args[0]
			if oauth.TokenURL != "" {
				e.OAuth = &oauth
			}
			return addEndpoint(st, out, e)
		}),
	}
	add.Flags().StringVar(&e.URL, "url", "", "Base URL")
	add.Flags().StringVar(&e.Protocol, "protocol", providers.ProtocolOpenAI, "Wire protocol: openai or anthropic")
	add.Flags().StringSliceVar(&e.Models, "models", nil, "Models offered by the endpoint")
	add.Flags().StringVar(&oauth.TokenURL, "oauth-token-url", "", "Client-credentials token URL")
	add.Flags().StringVar(&oauth.ClientID, "oauth-client-id", "", "OAuth client id")
	add.Flags().StringVar(&oauth.ClientSecret, "oauth-client-secret", "", "OAuth client secret")
	add.Flags().StringSliceVar(&oauth.Scopes, "oauth-scope", nil, "OAuth scope (repeatable)")
	_ = add.MarkFlagRequired("url")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List generation endpoints",
			Args:  cobra.NoArgs,
			RunE:  internal.WithStore(listEndpoints),
		},
		add,
		&cobra.Command{
			Use:     "remove <endpoint-id>",
			Aliases: []string{"rm"},
			Short:   "Delete an endpoint no profile refers to",
			Args:    cobra.ExactArgs(1),
			RunE: internal.WithStore(func(st *store.Store, out io.Writer, args []string) error {
				return removeEndpoint(st, out, args[0])
			}),
		},
	)

	return cmd
}
