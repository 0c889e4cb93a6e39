package storage

import (
	"context"
	"strconv"
	"strings"
)

// Row is the canonical record produced for one discovered note.
type Row struct {
	Keyword       string `json:"keyword"`
	CrawlTS       string `json:"crawl_ts"`
	FeedID        string `json:"feed_id"`
	NoteID        string `json:"note_id"`
	XsecToken     string `json:"xsec_token"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishTime   string `json:"publish_time"`
	Likes         int64  `json:"likes"`
	Comments      int64  `json:"comments"`
	Collects      int64  `json:"collects"`
	Shares        int64  `json:"shares"`
	Desc          string `json:"desc"`
	DetailContent string `json:"detail_content"`
	DetailTags    string `json:"detail_tags"`
	DetailOpened  bool   `json:"detail_opened"`
	NoteURL       string `json:"note_url"`
	DetailError   string `json:"detail_error"`
	// PublishTS is only materialized by recency filtering.
	PublishTS int64  `json:"publish_ts,omitempty"`
	CrawlDate string `json:"crawl_date,omitempty"`
}

// Columns defines the tabular column order for rows.
var Columns = []string{
	"keyword",
	"crawl_ts",
	"feed_id",
	"note_id",
	"xsec_token",
	"title",
	"author",
	"publish_time",
	"likes",
	"comments",
	"collects",
	"shares",
	"desc",
	"detail_content",
	"detail_tags",
	"detail_opened",
	"note_url",
	"detail_error",
	"publish_ts",
	"crawl_date",
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	publishTS := ""
	if r.PublishTS > 0 {
		publishTS = strconv.FormatInt(r.PublishTS, 10)
	}
	return []string{
		r.Keyword,
		r.CrawlTS,
		r.FeedID,
		r.NoteID,
		r.XsecToken,
		r.Title,
		r.Author,
		r.PublishTime,
		strconv.FormatInt(r.Likes, 10),
		strconv.FormatInt(r.Comments, 10),
		strconv.FormatInt(r.Collects, 10),
		strconv.FormatInt(r.Shares, 10),
		r.Desc,
		r.DetailContent,
		r.DetailTags,
		strconv.FormatBool(r.DetailOpened),
		r.NoteURL,
		r.DetailError,
		publishTS,
		r.CrawlDate,
	}
}

// RowFromRecord rebuilds a row from a tabular record. Columns are matched by
// header name so files written with a different column order still load;
// unknown columns are ignored and missing ones stay zero.
func RowFromRecord(header, record []string) Row {
	var r Row
	for i, name := range header {
		if i >= len(record) {
			break
		}
		v := record[i]
		switch strings.TrimSpace(name) {
		case "keyword":
			r.Keyword = v
		case "crawl_ts":
			r.CrawlTS = v
		case "feed_id":
			r.FeedID = v
		case "note_id":
			r.NoteID = v
		case "xsec_token":
			r.XsecToken = v
		case "title":
			r.Title = v
		case "author":
			r.Author = v
		case "publish_time":
			r.PublishTime = v
		case "likes":
			r.Likes = parseCount(v)
		case "comments":
			r.Comments = parseCount(v)
		case "collects":
			r.Collects = parseCount(v)
		case "shares":
			r.Shares = parseCount(v)
		case "desc":
			r.Desc = v
		case "detail_content":
			r.DetailContent = v
		case "detail_tags":
			r.DetailTags = v
		case "detail_opened":
			r.DetailOpened, _ = strconv.ParseBool(strings.TrimSpace(v))
		case "note_url":
			r.NoteURL = v
		case "detail_error":
			r.DetailError = v
		case "publish_ts":
			r.PublishTS = parseCount(v)
		case "crawl_date":
			r.CrawlDate = v
		}
	}
	return r
}

func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return int64(f)
	}
	return 0
}

// Stage names the external call that produced an ErrorRecord.
type Stage string

const (
	StageSearch Stage = "search"
	StageDetail Stage = "detail"
)

// ErrorRecord is one recorded stage failure. It is never modified after it
// has been appended to a run.
type ErrorRecord struct {
	Stage   Stage  `json:"stage"`
	Keyword string `json:"keyword"`
	FeedID  string `json:"feed_id,omitempty"`
	NoteID  string `json:"note_id,omitempty"`
	Error   string `json:"error"`
}

// KeywordStat summarizes one keyword iteration.
type KeywordStat struct {
	Keyword      string `json:"keyword"`
	SearchOK     bool   `json:"search_ok"`
	Rows         int    `json:"rows"`
	DetailErrors int    `json:"detail_errors"`
}

// RawPayload keeps a verbatim search payload for archival.
type RawPayload struct {
	Keyword string
	Payload any
}

// RunResult aggregates one collection run until it is persisted.
type RunResult struct {
	RunID        string
	CrawlDate    string
	CrawlTS      string
	Rows         []Row
	RawPayloads  []RawPayload
	Errors       []ErrorRecord
	KeywordStats []KeywordStat
}

// Filter allows querying for specific rows.
type Filter struct {
	CrawlDate string
	Keyword   string
	Limit     int
}

// Match reports whether the row satisfies the filter's field constraints.
// Limit is applied by the caller.
func (f Filter) Match(r Row) bool {
	if f.CrawlDate != "" && r.CrawlDate != f.CrawlDate {
		return false
	}
	if f.Keyword != "" && r.Keyword != f.Keyword {
		return false
	}
	return true
}

// Backend defines the interface for storing and querying rows.
type Backend interface {
	Save(ctx context.Context, rows []Row) error
	Query(ctx context.Context, filter Filter) ([]Row, error)
	Close() error
}
