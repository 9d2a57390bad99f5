package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/torosent/pipefire/internal/config"
	"github.com/torosent/pipefire/internal/output"
	"github.com/torosent/pipefire/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipefire [scenario-path]",
		Short: "Replay HTTP/1.1 requests over persistent connections and report latencies",
		Long: `pipefire reads a list of scenarios from a YAML file (or request.yml inside a
directory) and replays each request over a fixed number of keep-alive connections.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd)
	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	runID := ulid.Make().String()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With("run", runID)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var failed int64
	var breached []string
	for _, sc := range cfg.Scenarios {
		if ctx.Err() != nil {
			break
		}
		s := &scenarioRun{
			cfg:       cfg,
			scenario:  sc,
			runID:     runID,
			logger:    logger.With("scenario", sc.Label()),
			tracer:    provider.Tracer(),
			propagate: provider.ShouldPropagate(),
			stderr:    stderr,
		}
		report, err := s.execute(ctx)
		if err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Label(), err)
		}

		if cfg.JSONOutput {
			if err := output.PrintJSONReport(stdout, report); err != nil {
				return err
			}
		} else {
			output.PrintReport(stdout, report)
		}
		if cfg.ReportFile != "" {
			appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			err := output.AppendJSONReport(appendCtx, cfg.ReportFile, report)
			cancel()
			if err != nil {
				return err
			}
		}
		failed += report.Stats.Failures
		if !report.Passed() {
			breached = append(breached, sc.Label())
		}
	}

	switch {
	case failed > 0:
		return fmt.Errorf("%d requests failed", failed)
	case len(breached) > 0:
		return fmt.Errorf("thresholds failed for %s", strings.Join(breached, ", "))
	}
	return nil
}
