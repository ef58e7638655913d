package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwantia/assetsync/internal/config"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrItemsFailed makes the process exit non-zero after a report with
// failed items was printed.
var ErrItemsFailed = errors.New("one or more items failed")

type command func(ctx context.Context, r *runner.Runner) (*report.Report, error)

// execute loads the configuration, runs fn under a signal-aware context and
// renders the resulting report.
func execute(cmd *cobra.Command, fn command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := fn(ctx, runner.New(cfg))
	if errors.Is(err, runner.ErrRecentlySynced) {
		fmt.Fprintln(cmd.OutOrStdout(), "Destination is up to date, skipping sync (use --force to override)")
		return nil
	}
	if err != nil {
		return err
	}

	if err := rep.Render(cmd.OutOrStdout()); err != nil {
		return err
	}
	if rep.HasFailures() {
		return fmt.Errorf("%w: %d of %d", ErrItemsFailed, rep.Summary.Failed, len(rep.Items))
	}
	return nil
}

func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the manifest into the destination",
		Long: `Download every file of the manifest that is missing or differs locally,
verify it against the declared size and md5 and apply declared permissions.

With --cleanup, local files that are not part of the manifest are removed.
With --dry-run, the plan is reported without changing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.Sync(ctx)
			})
		},
	}
}

func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report what a sync would do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.Check(ctx)
			})
		},
	}
}

func NewRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <report>",
		Short: "Retry the failed items of a previous report",
		Long: `Re-run only the failed downloads of a persisted sync report. Manifest
and destination are taken from the report; a new report is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.Retry(ctx, args[0])
			})
		},
	}
}

func NewVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify local files against the manifest",
		Long: `Check size and md5 of every manifest entry present in the destination.
Files that fail verification are removed so the next sync replaces them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.Verify(ctx)
			})
		},
	}
}

func NewFixPermsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fix-perms",
		Short: "Apply declared permissions and ownership",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.FixPerms(ctx)
			})
		},
	}
}

func NewCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove local files that are not in the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(ctx context.Context, r *runner.Runner) (*report.Report, error) {
				return r.Cleanup(ctx, viper.GetBool("sync.dry_run"))
			})
		},
	}
}
