package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/FranksOps/notewatch/internal/storage"
)

// UnknownKeyword groups rows that carry no keyword.
const UnknownKeyword = "(unknown)"

// KeywordSummary aggregates the rows of one keyword.
type KeywordSummary struct {
	Keyword     string  `json:"keyword"`
	Posts       int     `json:"posts"`
	AvgLikes    float64 `json:"avg_likes"`
	AvgComments float64 `json:"avg_comments"`
	AvgCollects float64 `json:"avg_collects"`
	Engagement  int64   `json:"engagement"`
}

// SummaryColumns is the keyword_summary.csv header.
var SummaryColumns = []string{"keyword", "posts", "avg_likes", "avg_comments", "avg_collects", "engagement"}

// Record renders s in SummaryColumns order.
func (s KeywordSummary) Record() []string {
	return []string{
		s.Keyword,
		strconv.Itoa(s.Posts),
		formatAvg(s.AvgLikes),
		formatAvg(s.AvgComments),
		formatAvg(s.AvgCollects),
		strconv.FormatInt(s.Engagement, 10),
	}
}

func formatAvg(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// BuildKeywordSummary groups rows by keyword. The result is ordered by post
// count, then engagement, both descending; ties keep first-seen order.
func BuildKeywordSummary(rows []storage.Row) []KeywordSummary {
	type totals struct {
		posts                             int
		likes, comments, collects, shares int64
	}

	var order []string
	groups := make(map[string]*totals)
	for _, r := range rows {
		kw := strings.TrimSpace(r.Keyword)
		if kw == "" {
			kw = UnknownKeyword
		}
		g, ok := groups[kw]
		if !ok {
			g = &totals{}
			groups[kw] = g
			order = append(order, kw)
		}
		g.posts++
		g.likes += r.Likes
		g.comments += r.Comments
		g.collects += r.Collects
		g.shares += r.Shares
	}

	out := make([]KeywordSummary, 0, len(order))
	for _, kw := range order {
		g := groups[kw]
		n := float64(g.posts)
		out = append(out, KeywordSummary{
			Keyword:     kw,
			Posts:       g.posts,
			AvgLikes:    round2(float64(g.likes) / n),
			AvgComments: round2(float64(g.comments) / n),
			AvgCollects: round2(float64(g.collects) / n),
			Engagement:  g.likes + g.comments + g.collects + g.shares,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Posts != out[j].Posts {
			return out[i].Posts > out[j].Posts
		}
		return out[i].Engagement > out[j].Engagement
	})
	return out
}

// DetailErrorRows returns the rows whose detail fetch failed.
func DetailErrorRows(rows []storage.Row) []storage.Row {
	var out []storage.Row
	for _, r := range rows {
		if strings.TrimSpace(r.DetailError) != "" {
			out = append(out, r)
		}
	}
	return out
}

// FailedKeywords lists, sorted and unique, keywords whose search stage failed.
func FailedKeywords(errs []storage.ErrorRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range errs {
		if e.Stage != storage.StageSearch || e.Keyword == "" {
			continue
		}
		if _, ok := seen[e.Keyword]; ok {
			continue
		}
		seen[e.Keyword] = struct{}{}
		out = append(out, e.Keyword)
	}
	sort.Strings(out)
	return out
}

// Keywords lists, sorted and unique, the non-empty keywords of rows.
func Keywords(rows []storage.Row) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range rows {
		if r.Keyword == "" {
			continue
		}
		if _, ok := seen[r.Keyword]; ok {
			continue
		}
		seen[r.Keyword] = struct{}{}
		out = append(out, r.Keyword)
	}
	sort.Strings(out)
	return out
}

// RunStats is the structured run log record.
type RunStats struct {
	RunID               string                `json:"run_id"`
	CrawlDate           string                `json:"crawl_date"`
	CrawlTS             string                `json:"crawl_ts"`
	TotalRows           int                   `json:"total_rows"`
	Keywords            []string              `json:"keywords"`
	KeywordStats        []storage.KeywordStat `json:"keyword_stats"`
	ErrorCount          int                   `json:"error_count"`
	FailedKeywordCount  int                   `json:"failed_keyword_count"`
	DetailErrorRowCount int                   `json:"detail_error_row_count"`
}

// BuildRunStats derives the run log record from a finished run.
func BuildRunStats(res *storage.RunResult) RunStats {
	stats := res.KeywordStats
	if stats == nil {
		stats = []storage.KeywordStat{}
	}
	return RunStats{
		RunID:               res.RunID,
		CrawlDate:           res.CrawlDate,
		CrawlTS:             res.CrawlTS,
		TotalRows:           len(res.Rows),
		Keywords:            Keywords(res.Rows),
		KeywordStats:        stats,
		ErrorCount:          len(res.Errors),
		FailedKeywordCount:  len(FailedKeywords(res.Errors)),
		DetailErrorRowCount: len(DetailErrorRows(res.Rows)),
	}
}

// WriteJSON writes v to the provided writer as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

var textTmpl = template.Must(template.New("textReport").Parse(`notewatch run summary
---------------------
Run:             {{.RunID}}
Date:            {{.CrawlDate}} ({{.CrawlTS}})
Total rows:      {{.TotalRows}}
Errors:          {{.ErrorCount}}
Failed keywords: {{.FailedKeywordCount}}
Detail errors:   {{.DetailErrorRowCount}}

Keywords:
{{- range .KeywordStats}}
  {{.Keyword}}: {{if .SearchOK}}{{.Rows}} rows, {{.DetailErrors}} detail errors{{else}}search failed{{end}}
{{- else}}
  None
{{- end}}
`))

// WriteText writes a human-readable run summary to the provided writer.
func WriteText(w io.Writer, stats RunStats) error {
	if err := textTmpl.Execute(w, stats); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
