package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BridgeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notewatch_bridge_calls_total",
			Help: "Total number of bridge call attempts",
		},
		[]string{"op", "outcome", "blocked_by"},
	)

	BridgeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notewatch_bridge_call_duration_seconds",
			Help:    "Duration of bridge call attempts in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"op"},
	)

	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notewatch_stage_errors_total",
			Help: "Errors recorded after retries were exhausted, by stage",
		},
		[]string{"stage"},
	)

	KeywordRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notewatch_keyword_rows",
			Help: "Rows kept for a keyword in the last run",
		},
		[]string{"keyword"},
	)

	RunRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notewatch_run_rows",
		Help: "Rows persisted by the last run",
	})

	RunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notewatch_run_duration_seconds",
		Help: "Wall time of the last run",
	})

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notewatch_runs_total",
			Help: "Completed runs by result",
		},
		[]string{"result"},
	)

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notewatch_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run",
	})
)

// RecordCall updates the bridge metrics for one attempt. blockedBy names
// the protection that rejected the call, if any.
func RecordCall(op string, d time.Duration, err error, blockedBy string) {
	outcome := "ok"
	switch {
	case blockedBy != "":
		outcome = "blocked"
	case err != nil:
		outcome = "error"
	}
	BridgeCallsTotal.WithLabelValues(op, outcome, blockedBy).Inc()
	BridgeCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordStageError counts one finalized stage error.
func RecordStageError(stage string) {
	StageErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordKeyword sets the kept row count for keyword.
func RecordKeyword(keyword string, rows int) {
	KeywordRows.WithLabelValues(keyword).Set(float64(rows))
}

// RecordRun updates the run-level metrics.
func RecordRun(rows int, d time.Duration, ok bool, finished time.Time) {
	RunRows.Set(float64(rows))
	RunDuration.Set(d.Seconds())
	if ok {
		RunsTotal.WithLabelValues("success").Inc()
		LastSuccess.Set(float64(finished.Unix()))
		return
	}
	RunsTotal.WithLabelValues("failure").Inc()
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format, for batch runs that exit before anything could scrape them.
func WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on addr and exposes /metrics.
func Start(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
