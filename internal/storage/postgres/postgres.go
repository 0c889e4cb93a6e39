package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/notewatch/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS note_rows (
	crawl_date DATE NOT NULL,
	note_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	crawl_ts TEXT NOT NULL,
	feed_id TEXT NOT NULL,
	xsec_token TEXT NOT NULL,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	publish_time TEXT NOT NULL,
	publish_ts BIGINT NOT NULL,
	likes BIGINT NOT NULL,
	comments BIGINT NOT NULL,
	collects BIGINT NOT NULL,
	shares BIGINT NOT NULL,
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
) VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (crawl_date, note_id) DO UPDATE SET
	keyword = EXCLUDED.keyword,
	crawl_ts = EXCLUDED.crawl_ts,
	feed_id = EXCLUDED.feed_id,
	xsec_token = EXCLUDED.xsec_token,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	publish_time = EXCLUDED.publish_time,
	publish_ts = EXCLUDED.publish_ts,
	likes = EXCLUDED.likes,
	comments = EXCLUDED.comments,
	collects = EXCLUDED.collects,
	shares = EXCLUDED.shares,
	description = EXCLUDED.description,
	detail_content = EXCLUDED.detail_content,
	detail_tags = EXCLUDED.detail_tags,
	detail_opened = EXCLUDED.detail_opened,
	detail_error = EXCLUDED.detail_error,
	note_url = EXCLUDED.note_url
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rows []storage.Row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.NoteID == "" || r.CrawlDate == "" {
			continue
		}
		batch.Queue(upsert,
			r.CrawlDate, r.NoteID, r.Keyword, r.CrawlTS, r.FeedID, r.XsecToken,
			r.Title, r.Author, r.PublishTime, r.PublishTS,
			r.Likes, r.Comments, r.Collects, r.Shares, r.Desc,
			r.DetailContent, r.DetailTags, r.DetailOpened, r.DetailError, r.NoteURL,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := b.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: upsert batch: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]storage.Row, error) {
	query := `SELECT to_char(crawl_date, 'YYYY-MM-DD'), note_id, keyword, crawl_ts, feed_id, xsec_token, title, author,
	publish_time, publish_ts, likes, comments, collects, shares, description,
	detail_content, detail_tags, detail_opened, detail_error, note_url FROM note_rows WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.CrawlDate != "" {
		query += fmt.Sprintf(` AND crawl_date = $%d::date`, paramCount)
		args = append(args, filter.CrawlDate)
		paramCount++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, paramCount)
		args = append(args, filter.Keyword)
		paramCount++
	}

	query += ` ORDER BY publish_ts DESC, note_id ASC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
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
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
