// Package pipeline runs one collection pass over a keyword list and turns
// it into a persisted report set.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/notewatch/internal/bridge"
	"github.com/FranksOps/notewatch/internal/extract"
	"github.com/FranksOps/notewatch/internal/metrics"
	"github.com/FranksOps/notewatch/internal/rowset"
	"github.com/FranksOps/notewatch/internal/storage"
	"github.com/FranksOps/notewatch/pkg/retry"
)

// CrawlDateLayout keys every artifact of a run.
const CrawlDateLayout = "2006-01-02"

// CollectConfig holds the budgets and call policies of a collection pass.
type CollectConfig struct {
	// MaxPerKeyword and MaxTotalRows are row budgets; zero disables them.
	MaxPerKeyword int
	MaxTotalRows  int
	FetchDetail   bool
	// WithinHours is the recency window; zero disables filtering.
	WithinHours     float64
	Search          retry.Policy
	Detail          retry.Policy
	ContinueOnError bool
}

// Waiter paces detail calls. *ratelimit.Pacer satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Collector drives the bridge over a keyword list.
type Collector struct {
	bridge bridge.Bridge
	cfg    CollectConfig
	pacer  Waiter
	logger *slog.Logger

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep retry.SleepFunc
}

// NewCollector creates a Collector. A nil pacer never pauses between
// detail calls.
func NewCollector(b bridge.Bridge, cfg CollectConfig, pacer Waiter, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		bridge: b,
		cfg:    cfg,
		pacer:  pacer,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the collection settings.
func (c *Collector) Config() CollectConfig {
	return c.cfg
}

// Collect checks the bridge, then searches, normalizes and enriches every
// keyword until the global budget is spent. Stage failures are recorded on
// the result unless ContinueOnError is off, in which case the first one
// aborts the pass with a *StageError.
func (c *Collector) Collect(ctx context.Context, keywords []string) (*storage.RunResult, error) {
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	if err := c.bridge.Ready(ctx); err != nil {
		return nil, &ReadinessError{Err: err}
	}

	now := c.now()
	res := &storage.RunResult{
		RunID:     uuid.NewString(),
		CrawlDate: now.Format(CrawlDateLayout),
		CrawlTS:   now.Format(extract.CrawlTSLayout),
	}
	logger := c.logger.With("run_id", res.RunID)
	logger.InfoContext(ctx, "collection started", "keywords", len(keywords), "crawl_date", res.CrawlDate)

	var all []storage.Row
	for _, kw := range keywords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.cfg.MaxTotalRows > 0 && len(all) >= c.cfg.MaxTotalRows {
			logger.InfoContext(ctx, "row budget reached", "rows", len(all))
			break
		}

		rows, stat, err := c.collectKeyword(ctx, logger, res, kw, len(all))
		if err != nil {
			return nil, err
		}
		res.KeywordStats = append(res.KeywordStats, stat)
		if !stat.SearchOK {
			continue
		}
		all = append(all, rows...)
		metrics.RecordKeyword(kw, len(rows))
	}

	res.Rows = rowset.Finalize(all, c.cfg.MaxTotalRows)
	logger.InfoContext(ctx, "collection finished",
		"rows", len(res.Rows),
		"errors", len(res.Errors),
		"payloads", len(res.RawPayloads))
	return res, nil
}

func (c *Collector) collectKeyword(ctx context.Context, logger *slog.Logger, res *storage.RunResult, kw string, collected int) ([]storage.Row, storage.KeywordStat, error) {
	stat := storage.KeywordStat{Keyword: kw}

	payload, err := c.call(ctx, logger, storage.StageSearch, kw, c.cfg.Search, func(ctx context.Context) (any, error) {
		return c.bridge.Search(ctx, kw)
	})
	if err != nil {
		c.recordError(ctx, logger, res, storage.ErrorRecord{Stage: storage.StageSearch, Keyword: kw, Error: err.Error()})
		if !c.cfg.ContinueOnError {
			return nil, stat, &StageError{Stage: storage.StageSearch, Keyword: kw, Err: err}
		}
		return nil, stat, nil
	}
	stat.SearchOK = true
	res.RawPayloads = append(res.RawPayloads, storage.RawPayload{Keyword: kw, Payload: payload})

	rows := extract.Normalize(payload, kw, c.now())
	rows = rowset.Truncate(rows, c.cfg.MaxPerKeyword)
	if c.cfg.MaxTotalRows > 0 {
		rows = rowset.Truncate(rows, c.cfg.MaxTotalRows-collected)
	}

	if c.cfg.FetchDetail {
		rows, err = c.enrich(ctx, logger, res, kw, rows, &stat)
		if err != nil {
			return nil, stat, err
		}
	}

	rows = rowset.FilterRecent(rows, c.cfg.WithinHours, c.now())
	rows = rowset.Dedup(rows)
	for i := range rows {
		rows[i].CrawlTS = res.CrawlTS
		rows[i].CrawlDate = res.CrawlDate
	}
	stat.Rows = len(rows)

	logger.InfoContext(ctx, "keyword collected",
		"keyword", kw,
		"rows", stat.Rows,
		"detail_errors", stat.DetailErrors)
	return rows, stat, nil
}

// enrich merges a detail fetch into every row that carries an id and a
// token. A failed fetch keeps the row, unopened, with the error attached.
func (c *Collector) enrich(ctx context.Context, logger *slog.Logger, res *storage.RunResult, kw string, rows []storage.Row, stat *storage.KeywordStat) ([]storage.Row, error) {
	out := make([]storage.Row, 0, len(rows))
	for _, row := range rows {
		if row.FeedID == "" || row.XsecToken == "" {
			merged := extract.MergeDetail(row, extract.UnopenedPlaceholder())
			merged.DetailError = ""
			out = append(out, merged)
			continue
		}

		var detailErr string
		detail, err := c.call(ctx, logger, storage.StageDetail, kw, c.cfg.Detail, func(ctx context.Context) (any, error) {
			return c.bridge.Detail(ctx, row.FeedID, row.XsecToken)
		})
		if err != nil {
			detailErr = err.Error()
			stat.DetailErrors++
			c.recordError(ctx, logger, res, storage.ErrorRecord{
				Stage:   storage.StageDetail,
				Keyword: kw,
				FeedID:  row.FeedID,
				NoteID:  row.NoteID,
				Error:   detailErr,
			})
			if !c.cfg.ContinueOnError {
				return nil, &StageError{Stage: storage.StageDetail, Keyword: kw, FeedID: row.FeedID, Err: err}
			}
			detail = extract.UnopenedPlaceholder()
		}

		merged := extract.MergeDetail(row, detail)
		merged.DetailError = detailErr
		out = append(out, merged)

		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (c *Collector) call(ctx context.Context, logger *slog.Logger, stage storage.Stage, kw string, p retry.Policy, fn func(ctx context.Context) (any, error)) (any, error) {
	op := string(stage)
	opts := []retry.Option{retry.WithLogger(logger.With("stage", op, "keyword", kw))}
	if c.sleep != nil {
		opts = append(opts, retry.WithSleep(c.sleep))
	}

	attempt := 0
	return retry.Do(ctx, p, func(ctx context.Context) (any, error) {
		attempt++
		start := time.Now()
		v, err := fn(ctx)
		elapsed := time.Since(start)

		metrics.RecordCall(op, elapsed, err, blockedBy(err))
		logger.DebugContext(ctx, "bridge call",
			"stage", op,
			"keyword", kw,
			"attempt", attempt,
			"duration_ms", elapsed.Milliseconds(),
			"ok", err == nil)
		return v, err
	}, opts...)
}

func (c *Collector) recordError(ctx context.Context, logger *slog.Logger, res *storage.RunResult, rec storage.ErrorRecord) {
	res.Errors = append(res.Errors, rec)
	metrics.RecordStageError(string(rec.Stage))
	logger.WarnContext(ctx, "stage failed",
		"stage", rec.Stage,
		"keyword", rec.Keyword,
		"feed_id", rec.FeedID,
		"error", rec.Error)
}

func blockedBy(err error) string {
	var be *bridge.Error
	if errors.As(err, &be) {
		return be.Blocked
	}
	return ""
}
