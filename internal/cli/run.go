package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ppiankov/tootrelay/internal/config"
	"github.com/ppiankov/tootrelay/internal/relay"
	"github.com/ppiankov/tootrelay/internal/report"
)

var (
	runFormat  string
	runDryRun  bool
	runNoColor bool
	runEvery   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relay new posts for every configured pair",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "terminal", "report format: terminal, json, markdown")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "extract and report without publishing or moving watermarks")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable ANSI colors")
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat the run at this interval (e.g. 10m) until interrupted")
	rootCmd.AddCommand(runCmd)
}

// runOnceAction is swapped in tests.
var runOnceAction = runOnce

func runAction(cmd *cobra.Command, _ []string) error {
	every, err := parseRunEvery(runEvery)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if every == 0 {
		return runOnceAction(ctx)
	}
	return runWatch(ctx, every, func() error {
		if err := runOnceAction(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		}
		return nil
	})
}

// commandContext returns the command's context, or Background when the
// command was invoked directly.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func parseRunEvery(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--every must be positive, got %s", d)
	}
	return d, nil
}

// runWatch calls fn immediately and then once per interval until ctx is
// done. An error from fn stops the loop.
func runWatch(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runOnce relays every planned pair in order and prints the report. It
// fails when configuration prevented any pair from running.
func runOnce(ctx context.Context) error {
	formatter, err := report.ForName(runFormat, !runNoColor)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return errors.Mark(fmt.Errorf("load config: %w", err), relay.ErrConfiguration)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	pairs, err := planPairs(cfg)
	if err != nil {
		return errors.Mark(fmt.Errorf("plan pairs: %w", err), relay.ErrConfiguration)
	}

	wm, err := openWatermarks(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = wm.Close() }()

	relayer, err := newRelayer(cfg, wm, log, runDryRun)
	if err != nil {
		return err
	}

	start := time.Now()
	reports := make([]relay.Report, 0, len(pairs))
	misconfigured := 0
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		rep, err := relayer.Relay(ctx, p)
		if errors.Is(err, relay.ErrConfiguration) {
			misconfigured++
		}
		reports = append(reports, rep)
	}

	input := report.Input{Reports: reports, DryRun: runDryRun, Duration: time.Since(start)}
	if err := formatter.Format(os.Stdout, input); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if misconfigured > 0 {
		return errors.Mark(fmt.Errorf("%d of %d pairs are misconfigured", misconfigured, len(pairs)), relay.ErrConfiguration)
	}
	// An interrupt stops between pairs and is a clean exit.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
