package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FranksOps/notewatch/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS note_rows (
	crawl_date TEXT NOT NULL,
	note_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	crawl_ts TEXT NOT NULL,
	feed_id TEXT NOT NULL,
	xsec_token TEXT NOT NULL,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	publish_time TEXT NOT NULL,
	publish_ts INTEGER NOT NULL,
	likes INTEGER NOT NULL,
	comments INTEGER NOT NULL,
	collects INTEGER NOT NULL,
	shares INTEGER NOT NULL,
	description TEXT NOT NULL,
	detail_content TEXT NOT NULL,
	detail_tags TEXT NOT NULL,
	detail_opened BOOLEAN NOT NULL,
	detail_error TEXT NOT NULL,
	note_url TEXT NOT NULL,
	PRIMARY KEY (crawl_date, note_id)
);
`

const upsert = `
INSERT INTO note_rows (
	crawl_date, note_id, keyword, crawl_ts, feed_id, xsec_token, title, author,
	publish_time, publish_ts, likes, comments, collects, shares, description,
	detail_content, detail_tags, detail_opened, detail_error, note_url
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (crawl_date, note_id) DO UPDATE SET
	keyword = excluded.keyword,
	crawl_ts = excluded.crawl_ts,
	feed_id = excluded.feed_id,
	xsec_token = excluded.xsec_token,
	title = excluded.title,
	author = excluded.author,
	publish_time = excluded.publish_time,
	publish_ts = excluded.publish_ts,
	likes = excluded.likes,
	comments = excluded.comments,
	collects = excluded.collects,
	shares = excluded.shares,
	description = excluded.description,
	detail_content = excluded.detail_content,
	detail_tags = excluded.detail_tags,
	detail_opened = excluded.detail_opened,
	detail_error = excluded.detail_error,
	note_url = excluded.note_url
`

// New creates a new SQLite-backed storage.Backend that archives rows keyed
// by crawl date and note id.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rows []storage.Row) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if r.NoteID == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			r.CrawlDate, r.NoteID, r.Keyword, r.CrawlTS, r.FeedID, r.XsecToken,
			r.Title, r.Author, r.PublishTime, r.PublishTS,
			r.Likes, r.Comments, r.Collects, r.Shares, r.Desc,
			r.DetailContent, r.DetailTags, r.DetailOpened, r.DetailError, r.NoteURL,
		)
		if err != nil {
			return fmt.Errorf("sqlite: upsert %s: %w", r.NoteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]storage.Row, error) {
	query := `SELECT crawl_date, note_id, keyword, crawl_ts, feed_id, xsec_token, title, author,
	publish_time, publish_ts, likes, comments, collects, shares, description,
	detail_content, detail_tags, detail_opened, detail_error, note_url FROM note_rows WHERE 1=1`
	args := []any{}

	if filter.CrawlDate != "" {
		query += ` AND crawl_date = ?`
		args = append(args, filter.CrawlDate)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}

	query += ` ORDER BY publish_ts DESC, note_id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var results []storage.Row
	for rows.Next() {
		var r storage.Row
		err := rows.Scan(
			&r.CrawlDate, &r.NoteID, &r.Keyword, &r.CrawlTS, &r.FeedID, &r.XsecToken,
			&r.Title, &r.Author, &r.PublishTime, &r.PublishTS,
			&r.Likes, &r.Comments, &r.Collects, &r.Shares, &r.Desc,
			&r.DetailContent, &r.DetailTags, &r.DetailOpened, &r.DetailError, &r.NoteURL,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
