package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/notewatch/internal/metrics"
	"github.com/FranksOps/notewatch/internal/report"
	"github.com/FranksOps/notewatch/internal/rowset"
	"github.com/FranksOps/notewatch/internal/storage"
)

// Publisher copies written report files somewhere else. root is the data
// root the files live under.
type Publisher interface {
	Publish(ctx context.Context, root string, files []string) (int, error)
}

// JobConfig wires a Job.
type JobConfig struct {
	Collector *Collector
	Writer    *report.Writer
	// DedupWithExistingDay merges the rows already persisted for the crawl
	// date before writing.
	DedupWithExistingDay bool
	// Archives mirror the final rows. Failures are logged, never fatal.
	Archives []storage.Backend
	// Publisher, if set, uploads every written file.
	Publisher Publisher
	// MetricsTextfile writes runlog/<date>/metrics.prom after each run.
	MetricsTextfile bool
	Logger          *slog.Logger
}

// Job is one end-to-end run: collect, merge, persist.
type Job struct {
	cfg    JobConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewJob creates a Job.
func NewJob(cfg JobConfig) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{cfg: cfg, logger: logger, now: time.Now}
}

// Run collects keywords and persists the result. It returns a
// *RunFailedError when the run produced no data at all but recorded errors;
// nothing is written in that case.
func (j *Job) Run(ctx context.Context, keywords []string) (*report.Outcome, error) {
	start := j.now()
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	res, err := j.cfg.Collector.Collect(ctx, keywords)
	if err != nil {
		j.finish(0, start, false)
		return nil, err
	}
	logger := j.logger.With("run_id", res.RunID)

	if j.cfg.DedupWithExistingDay {
		existing, err := j.cfg.Writer.LoadExisting(ctx, res.CrawlDate)
		if err != nil {
			j.finish(0, start, false)
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		cc := j.cfg.Collector.Config()
		fresh := len(res.Rows)
		res.Rows = rowset.MergePrior(existing, res.Rows, cc.WithinHours, j.now(), cc.MaxTotalRows)
		logger.InfoContext(ctx, "merged with earlier run",
			"existing", len(existing),
			"fresh", fresh,
			"merged", len(res.Rows))
	}

	if len(res.Rows) == 0 && len(res.RawPayloads) == 0 && len(res.Errors) > 0 {
		j.finish(0, start, false)
		return nil, &RunFailedError{First: res.Errors[0], Errors: len(res.Errors)}
	}

	out, err := j.cfg.Writer.Write(ctx, res)
	if err != nil {
		j.finish(0, start, false)
		return nil, fmt.Errorf("pipeline: persist: %w", err)
	}

	for _, b := range j.cfg.Archives {
		if err := b.Save(ctx, res.Rows); err != nil {
			logger.WarnContext(ctx, "archive failed", "error", err)
		}
	}

	j.finish(len(res.Rows), start, true)
	if j.cfg.MetricsTextfile {
		path := j.cfg.Writer.Layout().MetricsFile(res.CrawlDate)
		if err := metrics.WriteTextfile(path); err != nil {
			logger.WarnContext(ctx, "metrics textfile failed", "error", err)
		} else {
			out.Files = append(out.Files, path)
		}
	}

	if j.cfg.Publisher != nil {
		n, err := j.cfg.Publisher.Publish(ctx, j.cfg.Writer.Layout().Root, out.Files)
		if err != nil {
			logger.WarnContext(ctx, "publish failed", "uploaded", n, "error", err)
		} else {
			logger.InfoContext(ctx, "reports published", "files", n)
		}
	}

	logger.InfoContext(ctx, "run completed",
		"total_rows", out.TotalRows,
		"error_count", out.ErrorCount,
		"failed_keyword_count", out.FailedKeywordCount,
		"detail_error_row_count", out.DetailErrorRowCount,
		"duration", j.now().Sub(start).Round(time.Millisecond))
	return out, nil
}

func (j *Job) finish(rows int, start time.Time, ok bool) {
	end := j.now()
	metrics.RecordRun(rows, end.Sub(start), ok, end)
}
