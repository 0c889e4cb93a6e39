package report

import (
	"path/filepath"
	"strings"
)

// Layout maps report artifacts onto the data root:
//
//	raw/<date>/<kw>.search.json     verbatim search payload
//	raw/<date>/<kw>.jsonl           rows, one JSON object per line
//	by_keyword/<kw>/<date>.csv
//	by_date/<date>/<kw>.csv
//	reports/<date>/all_rows.csv, keyword_summary.csv, detail_error_rows.csv
//	runlog/<date>/run_stats.json, errors.json, failed_keywords.txt,
//	              summary.txt, metrics.prom
type Layout struct {
	Root string
}

var nameReplacer = strings.NewReplacer("/", "_", `\`, "_", " ", "_")

// SafeName turns a keyword into a file name component.
func SafeName(name string) string {
	return nameReplacer.Replace(strings.TrimSpace(name))
}

func (l Layout) RawDir(date string) string {
	return filepath.Join(l.Root, "raw", date)
}

func (l Layout) RawSearchFile(date, keyword string) string {
	return filepath.Join(l.RawDir(date), SafeName(keyword)+".search.json")
}

func (l Layout) RawRowsFile(date, keyword string) string {
	return filepath.Join(l.RawDir(date), SafeName(keyword)+".jsonl")
}

func (l Layout) ByKeywordFile(keyword, date string) string {
	return filepath.Join(l.Root, "by_keyword", SafeName(keyword), date+".csv")
}

func (l Layout) ByDateFile(date, keyword string) string {
	return filepath.Join(l.Root, "by_date", date, SafeName(keyword)+".csv")
}

func (l Layout) ReportDir(date string) string {
	return filepath.Join(l.Root, "reports", date)
}

// AllRowsFile is also where the next run of the same day finds the rows
// to merge with.
func (l Layout) AllRowsFile(date string) string {
	return filepath.Join(l.ReportDir(date), "all_rows.csv")
}

func (l Layout) KeywordSummaryFile(date string) string {
	return filepath.Join(l.ReportDir(date), "keyword_summary.csv")
}

func (l Layout) DetailErrorFile(date string) string {
	return filepath.Join(l.ReportDir(date), "detail_error_rows.csv")
}

func (l Layout) RunlogDir(date string) string {
	return filepath.Join(l.Root, "runlog", date)
}

func (l Layout) RunStatsFile(date string) string {
	return filepath.Join(l.RunlogDir(date), "run_stats.json")
}

func (l Layout) ErrorsFile(date string) string {
	return filepath.Join(l.RunlogDir(date), "errors.json")
}

func (l Layout) FailedKeywordsFile(date string) string {
	return filepath.Join(l.RunlogDir(date), "failed_keywords.txt")
}

func (l Layout) SummaryTextFile(date string) string {
	return filepath.Join(l.RunlogDir(date), "summary.txt")
}

func (l Layout) MetricsFile(date string) string {
	return filepath.Join(l.RunlogDir(date), "metrics.prom")
}
