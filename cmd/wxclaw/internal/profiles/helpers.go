package profiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/auth"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

var stdin io.Reader = os.Stdin

func addProfile(st *store.Store, out io.Writer, p providers.Profile, in io.Reader) error {
	ep, err := st.Endpoints().Get(p.Source)
	if err != nil {
		return err
	}
	if len(ep.Models) > 0 && !slices.Contains(ep.Models, p.Model) {
		return fmt.Errorf("endpoint %s does not offer model %q (have %s)", ep.ID, p.Model, strings.Join(ep.Models, ", "))
	}
	if p.Token == "" && ep.OAuth == nil {
		p.Token, err = auth.PasteToken(ep.Protocol, in, out)
		if err != nil {
			return err
		}
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	if _, err := st.Profiles().Create(p); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Profile %s added (%s on %s)\n", p.ID, p.Model, ep.ID)
	return nil
}

const defaultTestMessage = "hello"

// testProfile sends message as a single user turn through the profile's
// binding. A diagnostic turn is printed and reported as a failure.
func testProfile(ctx context.Context, st *store.Store, pool *providers.Pool, out io.Writer, id, message string) error {
	b, err := st.Binding(id)
	if err != nil {
		return err
	}

	reply, err := pool.Complete(ctx, *b, []providers.Message{{Role: protocoltypes.RoleUser, Content: message}})
	if err != nil {
		return fmt.Errorf("profile %s: %w", id, err)
	}
	if reply.Content == providers.DiagnosticContent {
		fmt.Fprintf(out, "✗ %s (%s on %s): %s\n", id, b.Profile.Model, b.Endpoint.ID, reply.Content)
		return fmt.Errorf("profile %s: endpoint %s did not return a usable reply", id, b.Endpoint.ID)
	}

	fmt.Fprintf(out, "✓ %s (%s on %s)\n%s\n", id, b.Profile.Model, b.Endpoint.ID, reply.Content)
	return nil
}

func mask(token string) string {
	if token == "" {
		return "-"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}

func listProfiles(st *store.Store, out io.Writer, _ []string) error {
	list, err := st.Profiles().List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No profiles.")
		return nil
	}
	tw := internal.NewTable(out, "ID", "NAME", "ENDPOINT", "MODEL", "TOKEN")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Source, p.Model, mask(p.Token))
	}
	return tw.Flush()
}

func usesProfile(replies []rules.Reply, id string) bool {
	return slices.ContainsFunc(replies, func(r rules.Reply) bool {
		return r.Type == rules.ReplyGenerate && r.ProfileID == id
	})
}

func removeProfile(st *store.Store, out io.Writer, id string) error {
	doc, err := st.Snapshot()
	if err != nil {
		return err
	}
	var users []string
	for _, r := range doc.Rules {
		if usesProfile(r.Replies, id) {
			users = append(users, r.ID)
		}
	}
	for _, r := range doc.Scheduled {
		if usesProfile(r.Replies, id) {
			users = append(users, r.ID)
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("profile %s is used by %s", id, strings.Join(users, ", "))
	}

	if err := st.Profiles().Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Profile %s removed\n", id)
	return nil
}

func addEndpoint(st *store.Store, out io.Writer, e providers.Endpoint) error {
	switch e.Protocol {
	case providers.ProtocolOpenAI, providers.ProtocolAnthropic:
	default:
		return fmt.Errorf("unsupported protocol %q", e.Protocol)
	}
	if e.OAuth != nil && e.OAuth.ClientID == "" {
		return errors.New("--oauth-client-id is required with --oauth-token-url")
	}
	if _, err := st.Endpoints().Create(e); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Endpoint %s added (%s)\n", e.ID, e.Protocol)
	return nil
}

func listEndpoints(st *store.Store, out io.Writer, _ []string) error {
	list, err := st.Endpoints().List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No endpoints.")
		return nil
	}
	tw := internal.NewTable(out, "ID", "PROTOCOL", "URL", "AUTH")
	for _, e := range list {
		authMode := "token"
		if e.OAuth != nil {
			authMode = "oauth"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Protocol, e.URL, authMode)
	}
	return tw.Flush()
}

func removeEndpoint(st *store.Store, out io.Writer, id string) error {
	profiles, err := st.Profiles().List()
	if err != nil {
		return err
	}
	var users []string
	for _, p := range profiles {
		if p.Source == id {
			users = append(users, p.ID)
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("endpoint %s is used by %s", id, strings.Join(users, ", "))
	}

	if err := st.Endpoints().Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Endpoint %s removed\n", id)
	return nil
}
