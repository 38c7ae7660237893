// wxclaw - rule-driven auto-reply client for the WeChat web protocol
// License: MIT
//
// Copyright (c) 2026 wxclaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/console"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/groups"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/profiles"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/rules"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/run"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/schedules"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/status"
	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal/version"
)

func NewWxclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s wxclaw - rule-driven web chat auto-replier v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "wxclaw",
		Short:   short,
		Example: "wxclaw run",
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		rules.NewRulesCommand(),
		groups.NewGroupsCommand(),
		profiles.NewProfilesCommand(),
		schedules.NewSchedulesCommand(),
		console.NewConsoleCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewWxclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
