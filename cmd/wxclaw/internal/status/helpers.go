package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
)

const requestTimeout = 5 * time.Second

func statusCmd(cmd *cobra.Command, addr string, raw bool) error {
	if addr == "" {
		cfg, err := internal.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		addr = net.JoinHostPort(cfg.Status.Host, strconv.Itoa(cfg.Status.Port))
	}

	body, err := fetchStatus(cmd.Context(), "http://"+addr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if raw {
		_, err := out.Write(pretty.Pretty(body))
		return err
	}
	printSummary(out, body)
	return nil
}

func fetchStatus(ctx context.Context, baseURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get("/status")
	if err != nil {
		return nil, fmt.Errorf("is wxclaw running? %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status server returned %s", resp.Status())
	}
	if !gjson.ValidBytes(resp.Body()) {
		return nil, errors.New("status server returned invalid JSON")
	}
	return resp.Body(), nil
}

func printSummary(w io.Writer, body []byte) {
	doc := gjson.ParseBytes(body)

	fmt.Fprintf(w, "%s wxclaw Status\n\n", internal.Logo)
	fmt.Fprintf(w, "Session:  %s\n", doc.Get("state").String())
	if id := doc.Get("session.identity"); id.Exists() {
		fmt.Fprintf(w, "User:     %s (%s)\n", id.Get("NickName").String(), id.Get("UserName").String())
		fmt.Fprintf(w, "Syncs:    %d\n", doc.Get("session.sync_count").Int())
	}
	if sync := doc.Get("sync"); sync.Exists() {
		fmt.Fprintf(w, "Loop:     %s (generation %d, %d restarts)\n",
			sync.Get("state").String(), sync.Get("generation").Int(), sync.Get("restarts").Int())
		if e := sync.Get("last_error").String(); e != "" {
			fmt.Fprintf(w, "          last error: %s\n", e)
		}
	}
	fmt.Fprintf(w, "Contacts: %d\n", doc.Get("contacts").Int())

	cycles := doc.Get("meters.sync")
	fmt.Fprintf(w, "Cycles:   %d (%d failed), %d messages, %d replies\n",
		cycles.Get("cycles").Int(), cycles.Get("failed").Int(),
		cycles.Get("messages").Int(), cycles.Get("replies").Int())

	hits := doc.Get("meters.rules").Map()
	if len(hits) > 0 {
		ids := make([]string, 0, len(hits))
		for id := range hits {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(w, "\nRule hits:")
		for _, id := range ids {
			fmt.Fprintf(w, "  %s: %d\n", id, hits[id].Get("hits").Int())
		}
	}

	if scheds := doc.Get("schedules").Array(); len(scheds) > 0 {
		fmt.Fprintln(w, "\nSchedules:")
		for _, s := range scheds {
			fmt.Fprintf(w, "  %s [%s] %s, next %s, sent %d\n",
				s.Get("name").String(), s.Get("cron").String(), s.Get("status").String(),
				s.Get("next_fire").String(), s.Get("sent").Int())
		}
	}
}
