package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/qcat/internal/app"
	"github.com/keyxmakerx/qcat/internal/plugins/dispatcher"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Limit    int
	Loop     bool
	Interval time.Duration
}

// drainer is the part of the dispatcher the command loop needs.
type drainer interface {
	Drain(ctx context.Context) (dispatcher.Stats, error)
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Mail unprocessed change logs",
		Long: `Mail every unprocessed change log to its recipients and mark it processed.

Several dispatch processes may run at once: a log held by one is skipped by
the others. With --loop the command keeps draining every --interval until
interrupted.

Example:
  qcatctl dispatch
  qcatctl dispatch --loop --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max logs per drain (default DISPATCH_BATCH)")
	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "keep draining until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Minute, "pause between drains with --loop")

	return cmd
}

func runDispatch(cmd *cobra.Command, opts *DispatchOptions) error {
	if opts.Loop && opts.Interval <= 0 {
		return WrapExitError(ExitFailure, "--interval must be positive", nil)
	}
	ctx := cmd.Context()

	e, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	transport := smtp.NewTransport(app.MailSettings(e.cfg.Mail))
	if err := transport.TestConnection(ctx); err != nil {
		return WrapExitError(ExitTransportUnreachable, "checking mail transport", err)
	}

	if opts.Limit > 0 {
		e.cfg.Notifications.DispatchBatch = opts.Limit
	}
	d := e.services.Dispatcher(e.cfg, transport)

	return drainLoop(ctx, d, opts, func(stats dispatcher.Stats) error {
		return printResult(cmd, opts.RootOptions, stats, fmt.Sprintf(
			"scanned=%d processed=%d blocked=%d errors=%d sent=%d skipped=%d failed=%d",
			stats.Scanned, stats.Processed, stats.Blocked, stats.Errors,
			stats.Sent, stats.Skipped, stats.Failed))
	})
}

// drainLoop drains once, or repeatedly with --loop until ctx ends. An
// interrupted drain is not an error.
func drainLoop(ctx context.Context, d drainer, opts *DispatchOptions, report func(dispatcher.Stats) error) error {
	for {
		stats, err := d.Drain(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return WrapExitError(GetExitCode(err), "draining logs", err)
		}
		if err := report(stats); err != nil {
			return err
		}
		if !opts.Loop {
			return nil
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatch loop stopped")
			return nil
		case <-time.After(opts.Interval):
		}
	}
}
