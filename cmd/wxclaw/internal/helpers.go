package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/pkg/config"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/store"
)

const Logo = "🦞"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// GetConfigPath honours WXCLAW_CONFIG, falling back to ~/.wxclaw/config.json.
func GetConfigPath() string {
	if p := os.Getenv("WXCLAW_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wxclaw", "config.json")
}

// LoadConfig loads the config file and applies its logging settings.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}

	if lvl, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetLevel(lvl)
	}
	if cfg.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
			return nil, fmt.Errorf("enabling file logging: %w", err)
		}
	}
	return cfg, nil
}

// OpenStore loads the config and opens the store it points at.
func OpenStore() (*store.Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}
	return st, nil
}

// WithStore adapts a store operation into a cobra RunE.
func WithStore(fn func(st *store.Store, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := OpenStore()
		if err != nil {
			return err
		}
		return fn(st, cmd.OutOrStdout(), args)
	}
}

// NewTable returns a tabwriter for aligned list output; callers Flush it.
func NewTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
