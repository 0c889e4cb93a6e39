package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/FranksOps/notewatch/internal/storage"
	"github.com/FranksOps/notewatch/internal/storage/csvbackend"
)

func TestBuildKeywordSummary(t *testing.T) {
	rows := []storage.Row{
		{Keyword: "a", Likes: 10, Comments: 1, Collects: 2, Shares: 1},
		{Keyword: "b", Likes: 5},
		{Keyword: "a", Likes: 1, Comments: 0, Collects: 1},
		{Keyword: "c", Likes: 100},
		{Keyword: "", Likes: 3},
	}

	got := BuildKeywordSummary(rows)
	if len(got) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(got))
	}
	if got[0].Keyword != "a" || got[0].Posts != 2 {
		t.Fatalf("expected a first with 2 posts, got %+v", got[0])
	}
	if got[0].AvgLikes != 5.5 || got[0].AvgComments != 0.5 || got[0].AvgCollects != 1.5 {
		t.Errorf("unexpected averages: %+v", got[0])
	}
	if got[0].Engagement != 16 {
		t.Errorf("expected engagement 16, got %d", got[0].Engagement)
	}
	// Single-post groups are ordered by engagement.
	if got[1].Keyword != "c" || got[2].Keyword != "b" || got[3].Keyword != UnknownKeyword {
		t.Errorf("unexpected order: %s %s %s", got[1].Keyword, got[2].Keyword, got[3].Keyword)
	}

	rec := got[2].Record()
	if strings.Join(rec, ",") != "b,1,5.0,0.0,0.0,5" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestBuildKeywordSummaryRounding(t *testing.T) {
	rows := []storage.Row{
		{Keyword: "k", Likes: 1},
		{Keyword: "k", Likes: 1},
		{Keyword: "k", Likes: 0},
	}
	got := BuildKeywordSummary(rows)
	if got[0].AvgLikes != 0.67 {
		t.Errorf("expected 0.67, got %v", got[0].AvgLikes)
	}
}

func TestFailedKeywords(t *testing.T) {
	errs := []storage.ErrorRecord{
		{Stage: storage.StageSearch, Keyword: "z", Error: "timed out"},
		{Stage: storage.StageDetail, Keyword: "d", FeedID: "f1", Error: "x"},
		{Stage: storage.StageSearch, Keyword: "a", Error: "x"},
		{Stage: storage.StageSearch, Keyword: "z", Error: "again"},
	}
	got := FailedKeywords(errs)
	if strings.Join(got, ",") != "a,z" {
		t.Errorf("expected [a z], got %v", got)
	}
}

func sampleRun() *storage.RunResult {
	return &storage.RunResult{
		RunID:     "run-1",
		CrawlDate: "2026-02-27",
		CrawlTS:   "2026-02-27T09:00:00",
		Rows: []storage.Row{
			{Keyword: "餐饮 POS", NoteID: "n1", FeedID: "n1", Title: "t1", Likes: 4, CrawlDate: "2026-02-27", DetailOpened: true},
			{Keyword: "餐饮 POS", NoteID: "n2", FeedID: "n2", Title: "t2", CrawlDate: "2026-02-27", DetailError: "detail: timed out"},
			{Keyword: "收银", NoteID: "n3", FeedID: "n3", Title: "t3", CrawlDate: "2026-02-27"},
		},
		RawPayloads: []storage.RawPayload{
			{Keyword: "餐饮 POS", Payload: map[string]any{"items": []any{}}},
		},
		Errors: []storage.ErrorRecord{
			{Stage: storage.StageSearch, Keyword: "门店", Error: "search: timed out"},
			{Stage: storage.StageDetail, Keyword: "餐饮 POS", FeedID: "n2", NoteID: "n2", Error: "detail: timed out"},
		},
		KeywordStats: []storage.KeywordStat{
			{Keyword: "餐饮 POS", SearchOK: true, Rows: 2, DetailErrors: 1},
			{Keyword: "门店", SearchOK: false},
			{Keyword: "收银", SearchOK: true, Rows: 1},
		},
	}
}

func TestBuildRunStats(t *testing.T) {
	stats := BuildRunStats(sampleRun())
	if stats.TotalRows != 3 || stats.ErrorCount != 2 || stats.FailedKeywordCount != 1 || stats.DetailErrorRowCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if len(stats.Keywords) != 2 {
		t.Errorf("expected 2 keywords, got %v", stats.Keywords)
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, key := range []string{"run_id", "crawl_date", "crawl_ts", "total_rows", "keywords", "keyword_stats", "error_count", "failed_keyword_count", "detail_error_row_count"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected key %q in run stats", key)
		}
	}
}

func TestBuildRunStatsEmpty(t *testing.T) {
	stats := BuildRunStats(&storage.RunResult{CrawlDate: "2026-02-27"})

	var buf bytes.Buffer
	if err := WriteJSON(&buf, stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"keywords": []`) || !strings.Contains(out, `"keyword_stats": []`) {
		t.Errorf("expected empty lists, got %s", out)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, BuildRunStats(sampleRun())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Run:             run-1",
		"Total rows:      3",
		"餐饮 POS: 2 rows, 1 detail errors",
		"门店: search failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in text report:\n%s", want, out)
		}
	}
}

func TestWriterWrite(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, nil)
	ctx := context.Background()
	res := sampleRun()

	out, err := w.Write(ctx, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TotalRows != 3 || out.FailedKeywordCount != 1 || out.DetailErrorRowCount != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}

	l := w.Layout()
	for _, path := range []string{
		l.RawSearchFile(res.CrawlDate, "餐饮 POS"),
		l.RawRowsFile(res.CrawlDate, "餐饮 POS"),
		l.ByKeywordFile("收银", res.CrawlDate),
		l.ByDateFile(res.CrawlDate, "收银"),
		l.AllRowsFile(res.CrawlDate),
		l.KeywordSummaryFile(res.CrawlDate),
		l.DetailErrorFile(res.CrawlDate),
		l.RunStatsFile(res.CrawlDate),
		l.ErrorsFile(res.CrawlDate),
		l.FailedKeywordsFile(res.CrawlDate),
		l.SummaryTextFile(res.CrawlDate),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
	if len(out.Files) != 14 {
		t.Errorf("expected 14 files, got %d", len(out.Files))
	}
	if !strings.Contains(l.RawRowsFile(res.CrawlDate, "餐饮 POS"), "餐饮_POS.jsonl") {
		t.Errorf("expected keyword to be made file safe")
	}

	failed, _ := os.ReadFile(l.FailedKeywordsFile(res.CrawlDate))
	if string(failed) != "门店" {
		t.Errorf("expected failed keywords to be %q, got %q", "门店", failed)
	}

	header, records, err := csvbackend.ReadTable(l.DetailErrorFile(res.CrawlDate))
	if err != nil {
		t.Fatalf("failed to read detail error report: %v", err)
	}
	if len(header) != len(storage.Columns) || len(records) != 1 {
		t.Errorf("expected one detail error row, got %d", len(records))
	}

	loaded, err := w.LoadExisting(ctx, res.CrawlDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 3 || loaded[1].DetailError != "detail: timed out" {
		t.Errorf("unexpected reloaded rows: %+v", loaded)
	}
}

func TestWriterWrite_CollidingKeywordNames(t *testing.T) {
	// "a b" and "a_b" map to the same file name; "a_b" sorts last and owns it.
	for i := 0; i < 20; i++ {
		w := NewWriter(t.TempDir(), nil)
		res := &storage.RunResult{
			RunID:     "run-1",
			CrawlDate: "2026-02-27",
			Rows: []storage.Row{
				{Keyword: "a_b", NoteID: "underscore", CrawlDate: "2026-02-27"},
				{Keyword: "a b", NoteID: "space", CrawlDate: "2026-02-27"},
			},
			RawPayloads: []storage.RawPayload{
				{Keyword: "a_b", Payload: map[string]any{"from": "underscore"}},
				{Keyword: "a b", Payload: map[string]any{"from": "space"}},
			},
		}

		out, err := w.Write(context.Background(), res)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		seen := map[string]bool{}
		for _, f := range out.Files {
			if seen[f] {
				t.Fatalf("file %s listed twice", f)
			}
			seen[f] = true
		}

		l := w.Layout()
		for _, path := range []string{l.ByDateFile(res.CrawlDate, "a b"), l.ByKeywordFile("a b", res.CrawlDate)} {
			header, records, err := csvbackend.ReadTable(path)
			if err != nil {
				t.Fatalf("failed to read %s: %v", path, err)
			}
			col := -1
			for j, h := range header {
				if h == "note_id" {
					col = j
				}
			}
			if col < 0 || len(records) != 1 || records[0][col] != "underscore" {
				t.Fatalf("expected %s to hold the a_b row, got %v", path, records)
			}
		}

		raw, err := os.ReadFile(l.RawSearchFile(res.CrawlDate, "a b"))
		if err != nil {
			t.Fatalf("failed to read raw payload: %v", err)
		}
		if !strings.Contains(string(raw), "underscore") {
			t.Fatalf("expected raw payload of a_b, got %s", raw)
		}
	}
}

func TestWriterWriteEmpty(t *testing.T) {
	w := NewWriter(t.TempDir(), nil)
	ctx := context.Background()
	res := &storage.RunResult{RunID: "r", CrawlDate: "2026-02-27", CrawlTS: "2026-02-27T09:00:00"}

	if _, err := w.Write(ctx, res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l := w.Layout()
	for _, path := range []string{l.AllRowsFile(res.CrawlDate), l.KeywordSummaryFile(res.CrawlDate), l.DetailErrorFile(res.CrawlDate)} {
		header, records, err := csvbackend.ReadTable(path)
		if err != nil {
			t.Fatalf("failed to read %s: %v", path, err)
		}
		if len(header) != 1 || header[0] != "message" || len(records) != 1 || records[0][0] != "no data" {
			t.Errorf("expected placeholder table in %s, got %v %v", path, header, records)
		}
	}

	errs, _ := os.ReadFile(l.ErrorsFile(res.CrawlDate))
	if strings.TrimSpace(string(errs)) != "[]" {
		t.Errorf("expected empty errors list, got %s", errs)
	}

	loaded, err := w.LoadExisting(ctx, res.CrawlDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected no rows from placeholder table, got %d", len(loaded))
	}
}

func TestLoadExistingMissing(t *testing.T) {
	w := NewWriter(t.TempDir(), nil)
	rows, err := w.LoadExisting(context.Background(), "2026-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
