package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranksOps/notewatch/internal/config"
	"github.com/FranksOps/notewatch/internal/metrics"
	"github.com/FranksOps/notewatch/internal/pipeline"
	"github.com/FranksOps/notewatch/internal/schedule"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noDetail bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one collection pass and write the day's reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noDetail {
				opts.v.Set("fetch_detail", false)
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return usageError{err}
			}
			return runOnce(cmd.Context(), cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.String("keywords-file", "keywords.txt", "keyword file, one per line")
	fs.Int("max-per-keyword", 30, "row budget per keyword (0 = unlimited)")
	fs.Int("max-total-rows", 200, "row budget per run (0 = unlimited)")
	fs.Float64("within-hours", 24, "keep notes published within this many hours (0 = no filter)")
	fs.BoolVar(&noDetail, "no-detail", false, "skip detail fetches, keep search fields only")
	bindFlags(opts.v, fs, map[string]string{
		"keywords_file":   "keywords-file",
		"max_per_keyword": "max-per-keyword",
		"max_total_rows":  "max-total-rows",
		"within_hours":    "within-hours",
	})
	return cmd
}

func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	keywords, err := config.ReadKeywords(cfg.KeywordsFile)
	if err != nil {
		return usageError{err}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		srv := metrics.Start(cfg.Metrics.Addr, logger)
		defer srv.Stop(context.Background())
	}

	out, err := a.job.Run(ctx, keywords)
	if err != nil {
		return err
	}
	printOutcome(os.Stdout, out)
	return nil
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the collection on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return usageError{err}
			}
			if cfg.Schedule == "" {
				return usageError{errors.New("a cron spec is required (--cron or schedule)")}
			}
			return runSchedule(cmd.Context(), cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.String("cron", "", `cron spec, e.g. "0 9 * * *" or "@every 6h"`)
	fs.String("metrics-addr", "", "serve /metrics on this address")
	bindFlags(opts.v, fs, map[string]string{
		"schedule":     "cron",
		"metrics.addr": "metrics-addr",
	})
	return cmd
}

func runSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		srv := metrics.Start(cfg.Metrics.Addr, logger)
		defer srv.Stop(context.Background())
	}

	s, err := schedule.New(cfg.Schedule, func(ctx context.Context) {
		// The keyword file is re-read so edits apply to the next firing.
		keywords, err := config.ReadKeywords(cfg.KeywordsFile)
		if err != nil {
			logger.ErrorContext(ctx, "scheduled run skipped", "error", err)
			return
		}
		if _, err := a.job.Run(ctx, keywords); err != nil {
			logger.ErrorContext(ctx, "scheduled run failed", "error", err)
		}
	}, logger)
	if err != nil {
		return usageError{err}
	}
	return s.Run(ctx)
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the bridge is installed and healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return usageError{err}
			}
			b, err := newBridge(cfg, logger)
			if err != nil {
				return usageError{err}
			}
			if err := b.Ready(cmd.Context()); err != nil {
				return &pipeline.ReadinessError{Err: err}
			}
			fmt.Fprintln(os.Stdout, okStyle.Render("bridge ready ("+cfg.Bridge.Kind+")"))
			return nil
		},
	}
}
