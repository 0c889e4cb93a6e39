package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/notewatch/internal/storage"
	"github.com/FranksOps/notewatch/internal/storage/csvbackend"
	"github.com/FranksOps/notewatch/internal/storage/jsonbackend"
)

// Outcome describes what a Write produced.
type Outcome struct {
	ReportDir           string
	RunStatsFile        string
	ErrorsFile          string
	FailedKeywordsFile  string
	DetailErrorReport   string
	SummaryTextFile     string
	TotalRows           int
	ErrorCount          int
	FailedKeywordCount  int
	DetailErrorRowCount int
	// Files lists every file written, for publishing.
	Files []string
}

// Writer persists a finished run under a Layout.
type Writer struct {
	layout      Layout
	logger      *slog.Logger
	concurrency int
}

// NewWriter creates a Writer rooted at dataRoot.
func NewWriter(dataRoot string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{layout: Layout{Root: dataRoot}, logger: logger, concurrency: 4}
}

// Layout returns the file layout the writer uses.
func (w *Writer) Layout() Layout {
	return w.layout
}

// LoadExisting returns rows persisted earlier for date, or none when no
// report exists yet.
func (w *Writer) LoadExisting(ctx context.Context, date string) ([]storage.Row, error) {
	b, err := csvbackend.New(w.layout.AllRowsFile(date))
	if err != nil {
		return nil, err
	}
	defer b.Close()

	rows, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		return nil, fmt.Errorf("report: load existing rows: %w", err)
	}
	return rows, nil
}

// fileSet collects written paths from concurrent writers.
type fileSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	paths []string
}

func (f *fileSet) add(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[p] {
		return
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[p] = true
	f.paths = append(f.paths, p)
}

// Write persists every artifact of res. Per-keyword files are written
// concurrently; aggregate reports and the run log follow once they are done.
func (w *Writer) Write(ctx context.Context, res *storage.RunResult) (*Outcome, error) {
	date := res.CrawlDate
	l := w.layout
	files := &fileSet{}

	for _, dir := range []string{
		l.RawDir(date),
		filepath.Join(l.Root, "by_keyword"),
		filepath.Join(l.Root, "by_date", date),
		l.ReportDir(date),
		l.RunlogDir(date),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("report: mkdir %s: %w", dir, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	// Keywords that share a file name are written by one goroutine in
	// sorted order, so the last keyword owns the file.
	raws := make(map[string]any, len(res.RawPayloads))
	rawKeywords := make([]string, 0, len(res.RawPayloads))
	for _, raw := range res.RawPayloads {
		if _, ok := raws[raw.Keyword]; !ok {
			rawKeywords = append(rawKeywords, raw.Keyword)
		}
		raws[raw.Keyword] = raw.Payload
	}
	sort.Strings(rawKeywords)
	for _, batch := range bySafeName(rawKeywords) {
		g.Go(func() error {
			for _, kw := range batch {
				path := l.RawSearchFile(date, kw)
				if err := writeJSONFile(path, raws[kw]); err != nil {
					return err
				}
				files.add(path)
			}
			return nil
		})
	}

	byKeyword := groupByKeyword(res.Rows)
	for _, batch := range bySafeName(Keywords(res.Rows)) {
		g.Go(func() error {
			for _, kw := range batch {
				if err := w.writeKeyword(gctx, date, kw, byKeyword[kw], files); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := w.writeReports(ctx, res, files); err != nil {
		return nil, err
	}
	stats := BuildRunStats(res)
	if err := w.writeRunlog(res, stats, files); err != nil {
		return nil, err
	}

	out := &Outcome{
		ReportDir:           l.ReportDir(date),
		RunStatsFile:        l.RunStatsFile(date),
		ErrorsFile:          l.ErrorsFile(date),
		FailedKeywordsFile:  l.FailedKeywordsFile(date),
		DetailErrorReport:   l.DetailErrorFile(date),
		SummaryTextFile:     l.SummaryTextFile(date),
		TotalRows:           stats.TotalRows,
		ErrorCount:          stats.ErrorCount,
		FailedKeywordCount:  stats.FailedKeywordCount,
		DetailErrorRowCount: stats.DetailErrorRowCount,
		Files:               files.paths,
	}
	w.logger.InfoContext(ctx, "reports written",
		"date", date,
		"rows", out.TotalRows,
		"files", len(out.Files),
		"report_dir", out.ReportDir)
	return out, nil
}

// bySafeName batches keywords whose SafeName collides. Batches and their
// members keep the order of keywords.
func bySafeName(keywords []string) [][]string {
	index := make(map[string]int)
	var out [][]string
	for _, kw := range keywords {
		name := SafeName(kw)
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], kw)
	}
	return out
}

func groupByKeyword(rows []storage.Row) map[string][]storage.Row {
	out := make(map[string][]storage.Row)
	for _, r := range rows {
		if r.Keyword == "" {
			continue
		}
		out[r.Keyword] = append(out[r.Keyword], r)
	}
	return out
}

func (w *Writer) writeKeyword(ctx context.Context, date, kw string, rows []storage.Row, files *fileSet) error {
	l := w.layout

	jsonl, err := jsonbackend.New(l.RawRowsFile(date, kw))
	if err != nil {
		return err
	}
	if err := jsonl.Save(ctx, rows); err != nil {
		return err
	}
	files.add(l.RawRowsFile(date, kw))

	for _, path := range []string{l.ByKeywordFile(kw, date), l.ByDateFile(date, kw)} {
		if err := saveCSV(ctx, path, rows); err != nil {
			return err
		}
		files.add(path)
	}
	return nil
}

func (w *Writer) writeReports(ctx context.Context, res *storage.RunResult, files *fileSet) error {
	l := w.layout
	date := res.CrawlDate

	summary := BuildKeywordSummary(res.Rows)
	var header []string
	records := make([][]string, 0, len(summary))
	if len(summary) > 0 {
		header = SummaryColumns
	}
	for _, s := range summary {
		records = append(records, s.Record())
	}
	if err := csvbackend.WriteTable(l.KeywordSummaryFile(date), header, records); err != nil {
		return err
	}
	files.add(l.KeywordSummaryFile(date))

	if err := saveCSV(ctx, l.AllRowsFile(date), res.Rows); err != nil {
		return err
	}
	files.add(l.AllRowsFile(date))

	if err := saveCSV(ctx, l.DetailErrorFile(date), DetailErrorRows(res.Rows)); err != nil {
		return err
	}
	files.add(l.DetailErrorFile(date))
	return nil
}

func (w *Writer) writeRunlog(res *storage.RunResult, stats RunStats, files *fileSet) error {
	l := w.layout
	date := res.CrawlDate

	failed := FailedKeywords(res.Errors)
	if err := os.WriteFile(l.FailedKeywordsFile(date), []byte(strings.Join(failed, "\n")), 0o644); err != nil {
		return fmt.Errorf("report: write failed keywords: %w", err)
	}
	files.add(l.FailedKeywordsFile(date))

	if err := writeJSONFile(l.RunStatsFile(date), stats); err != nil {
		return err
	}
	files.add(l.RunStatsFile(date))

	errs := res.Errors
	if errs == nil {
		errs = []storage.ErrorRecord{}
	}
	if err := writeJSONFile(l.ErrorsFile(date), errs); err != nil {
		return err
	}
	files.add(l.ErrorsFile(date))

	f, err := os.Create(l.SummaryTextFile(date))
	if err != nil {
		return fmt.Errorf("report: create summary: %w", err)
	}
	defer f.Close()
	if err := WriteText(f, stats); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close summary: %w", err)
	}
	files.add(l.SummaryTextFile(date))
	return nil
}

func saveCSV(ctx context.Context, path string, rows []storage.Row) error {
	b, err := csvbackend.New(path)
	if err != nil {
		return err
	}
	defer b.Close()
	return b.Save(ctx, rows)
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := WriteJSON(f, v); err != nil {
		return err
	}
	return f.Close()
}
