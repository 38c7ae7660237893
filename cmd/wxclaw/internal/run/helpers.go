package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wxclaw/cmd/wxclaw/internal"
	"github.com/tinyland-inc/wxclaw/pkg/bot"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/webwx"
)

func runCmd(cmd *cobra.Command, debug, noStatus bool) error {
	out := cmd.OutOrStdout()

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Fprintln(out, "🔍 Debug mode enabled")
	}
	if noStatus {
		cfg.Status.Enabled = false
	}

	app, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("error starting: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Status.Enabled {
		addr := net.JoinHostPort(cfg.Status.Host, strconv.Itoa(cfg.Status.Port))
		fmt.Fprintf(out, "✓ Status endpoints at http://%s/health, /ready, /status and /events\n", addr)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	err = app.Run(ctx, qrPrinter(app, out))
	return exitError(ctx, err)
}

// qrPrinter saves every issued QR code and tells the operator where it is.
func qrPrinter(app *bot.App, out io.Writer) func(*webwx.QRCode) {
	return func(qr *webwx.QRCode) {
		path, err := app.SaveQR(qr)
		if err != nil {
			fmt.Fprintf(out, "⚠ Could not save QR code: %v\n", err)
		} else {
			fmt.Fprintf(out, "%s Scan the QR code saved at %s\n", internal.Logo, path)
		}
		if qr.LoginURL != "" {
			fmt.Fprintf(out, "  or open %s on a logged-in phone\n", qr.LoginURL)
		}
	}
}

// exitError maps the end of a run to the command's result: an operator
// stop is success, a revoked session asks for a fresh login.
func exitError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, webwx.ErrSessionInvalid):
		return fmt.Errorf("session ended by the server, run again to log in: %w", err)
	default:
		return err
	}
}
