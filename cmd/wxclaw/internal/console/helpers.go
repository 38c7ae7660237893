package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/history"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

const defaultPeer = "@console"

// session is one dry-run conversation against the stored rules.
type session struct {
	store   *store.Store
	engine  *rules.Engine
	history *history.History
	peer    string
}

func consoleCmd(cmd *cobra.Command, message, peer string, debug bool) error {
	out := cmd.OutOrStdout()
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Fprintln(out, "🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}

	s := &session{
		store:   st,
		engine:  rules.NewEngine(providers.NewPool(cfg.Sync.GenerationTimeout())),
		history: history.New(cfg.Sync.HistorySize),
		peer:    peer,
	}

	if message != "" {
		fmt.Fprintln(out, s.handle(cmd.Context(), message))
		return nil
	}

	fmt.Fprintf(out, "%s Console mode, nothing is sent (Ctrl+C to exit)\n\n", internal.Logo)
	interactiveMode(s, out)
	return nil
}

// handle evaluates one console line and returns what to print.
func (s *session) handle(ctx context.Context, line string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	if cmd, ok := strings.CutPrefix(line, ":"); ok {
		return s.command(cmd)
	}

	running, err := s.store.ResolveRunning()
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	outcome, ok := s.engine.Match(ctx, running, s.peer, line, s.history.Get(s.peer))
	if !ok {
		return "(no rule matched)"
	}
	s.history.PushExchange(s.peer, line, outcome.Content)
	return fmt.Sprintf("[%s #%d %s] %s", outcome.RuleName, outcome.ReplyIndex, outcome.Type, outcome.Content)
}

func (s *session) command(cmd string) string {
	name, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	switch name {
	case "peer":
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return "Current peer: " + s.peer
		}
		s.peer = arg
		return "Peer set to " + s.peer
	case "clear":
		s.history.Clear(s.peer)
		return "History cleared for " + s.peer
	case "rules":
		running, err := s.store.ResolveRunning()
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		if len(running) == 0 {
			return "No enabled rules."
		}
		lines := make([]string, 0, len(running))
		for i, r := range running {
			hit := " "
			if r.Group.Hit(s.peer) {
				hit = "*"
			}
			lines = append(lines, fmt.Sprintf("%s %d. %s (group %s, %d replies)", hit, i+1, r.Rule.Name, r.Group.ID, len(r.Replies)))
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("Unknown command :%s", name)
	}
}

func interactiveMode(s *session, out io.Writer) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s %s> ", internal.Logo, s.peer),
		HistoryFile:     filepath.Join(os.TempDir(), ".wxclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		simpleInteractiveMode(s, os.Stdin, out)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		fmt.Fprintf(out, "%s\n\n", s.handle(context.Background(), input))
		rl.SetPrompt(fmt.Sprintf("%s %s> ", internal.Logo, s.peer))
	}
}

func simpleInteractiveMode(s *session, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s %s> ", internal.Logo, s.peer)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		fmt.Fprintf(out, "%s\n\n", s.handle(context.Background(), input))
	}
}
