package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/FranksOps/notewatch/internal/bridge"
	"github.com/FranksOps/notewatch/internal/config"
	"github.com/FranksOps/notewatch/internal/fingerprint"
	"github.com/FranksOps/notewatch/internal/pipeline"
	"github.com/FranksOps/notewatch/internal/publish"
	"github.com/FranksOps/notewatch/internal/report"
	"github.com/FranksOps/notewatch/internal/storage"
	"github.com/FranksOps/notewatch/internal/storage/postgres"
	"github.com/FranksOps/notewatch/internal/storage/sqlite"
	"github.com/FranksOps/notewatch/pkg/proxy"
	"github.com/FranksOps/notewatch/pkg/ratelimit"
	"github.com/FranksOps/notewatch/pkg/retry"
)

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func newBridge(cfg *config.Config, logger *slog.Logger) (bridge.Bridge, error) {
	switch cfg.Bridge.Kind {
	case config.BridgeHTTP:
		profile, err := fingerprint.ParseProfile(cfg.Bridge.Fingerprint)
		if err != nil {
			return nil, err
		}
		var proxies *proxy.Pool
		if cfg.Bridge.ProxiesFile != "" {
			proxies = proxy.NewPool(proxy.Config{})
			if err := proxies.LoadFile(cfg.Bridge.ProxiesFile); err != nil {
				return nil, err
			}
		}
		return bridge.NewHTTP(bridge.HTTPConfig{
			BaseURL:            cfg.Bridge.URL,
			Token:              cfg.Bridge.Token,
			Fingerprint:        profile,
			ProxyURL:           cfg.Bridge.Proxy,
			Proxies:            proxies,
			UserAgents:         cfg.Bridge.UserAgents,
			InsecureSkipVerify: cfg.Bridge.Insecure,
			Timeout:            cfg.Bridge.Timeout,
		}, logger)
	default:
		return bridge.NewCommand(bridge.CommandConfig{
			DoctorBin: cfg.Bridge.DoctorBin,
			CallerBin: cfg.Bridge.CallerBin,
		}, logger), nil
	}
}

// app holds the wired job and the resources it owns.
type app struct {
	job      *pipeline.Job
	archives []storage.Backend
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	b, err := newBridge(cfg, logger)
	if err != nil {
		return nil, usageError{err}
	}

	collector := pipeline.NewCollector(b, pipeline.CollectConfig{
		MaxPerKeyword: cfg.MaxPerKeyword,
		MaxTotalRows:  cfg.MaxTotalRows,
		FetchDetail:   cfg.FetchDetail,
		WithinHours:   cfg.WithinHours,
		Search: retry.Policy{
			Retries:   cfg.SearchRetries,
			BaseDelay: cfg.RetryDelay,
			Timeout:   cfg.SearchTimeout,
		},
		Detail: retry.Policy{
			Retries:   cfg.DetailRetries,
			BaseDelay: cfg.RetryDelay,
			Timeout:   cfg.DetailTimeout,
		},
		ContinueOnError: cfg.ContinueOnError,
	}, ratelimit.NewPacer(cfg.DetailSleep, cfg.RandomSleepMin, cfg.RandomSleepMax), logger)

	a := &app{}
	if cfg.Archive.SQLite != "" {
		be, err := sqlite.New(cfg.Archive.SQLite)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open sqlite archive: %w", err)
		}
		a.archives = append(a.archives, be)
	}
	if cfg.Archive.Postgres != "" {
		be, err := postgres.New(ctx, cfg.Archive.Postgres)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open postgres archive: %w", err)
		}
		a.archives = append(a.archives, be)
	}

	var pub pipeline.Publisher
	if cfg.Publish.Bucket != "" {
		p, err := publish.NewS3(ctx, publish.S3Config{
			Bucket:       cfg.Publish.Bucket,
			Prefix:       cfg.Publish.Prefix,
			Region:       cfg.Publish.Region,
			Profile:      cfg.Publish.Profile,
			Endpoint:     cfg.Publish.Endpoint,
			UsePathStyle: cfg.Publish.PathStyle,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		pub = p
	}

	a.job = pipeline.NewJob(pipeline.JobConfig{
		Collector:            collector,
		Writer:               report.NewWriter(cfg.DataRoot, logger),
		DedupWithExistingDay: cfg.DedupWithExistingDay,
		Archives:             a.archives,
		Publisher:            pub,
		MetricsTextfile:      cfg.Metrics.Textfile,
		Logger:               logger,
	})
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for _, be := range a.archives {
		if err := be.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
