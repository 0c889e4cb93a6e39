// Package rowset holds the pure operations applied to collected rows:
// recency filtering, deduplication, ordering, budgets and the merge with
// rows persisted earlier the same day.
package rowset

import (
	"sort"
	"strings"
	"time"

	"github.com/FranksOps/notewatch/internal/storage"
)

// FilterRecent keeps rows published within the trailing window ending at
// now and stamps their resolved PublishTS. Rows with an unknown publish time
// are dropped. A non-positive window returns the rows unmodified.
func FilterRecent(rows []storage.Row, withinHours float64, now time.Time) []storage.Row {
	if withinHours <= 0 {
		return rows
	}

	minTS := now.Unix() - int64(withinHours*3600)
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		ts := ResolveTimestamp(r.PublishTime)
		if ts <= 0 || ts < minTS {
			continue
		}
		r.PublishTS = ts
		out = append(out, r)
	}
	return out
}

// DedupKey is the identity used for deduplication: the first non-empty of
// note id, feed id, note url and title.
func DedupKey(r storage.Row) string {
	for _, v := range []string{r.NoteID, r.FeedID, r.NoteURL, r.Title} {
		if v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Dedup keeps the first row per DedupKey, preserving order. Rows without a
// key are dropped.
func Dedup(rows []storage.Row) []storage.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		key := DedupKey(r)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortByPublishDesc orders rows newest first. Unparseable publish times
// sort as 0 and ties keep their input order.
func SortByPublishDesc(rows []storage.Row) []storage.Row {
	type keyed struct {
		ts  int64
		row storage.Row
	}
	ks := make([]keyed, len(rows))
	for i, r := range rows {
		ks[i] = keyed{ts: ResolveTimestamp(r.PublishTime), row: r}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].ts > ks[j].ts })

	out := make([]storage.Row, len(ks))
	for i, k := range ks {
		out[i] = k.row
	}
	return out
}

// Truncate applies a row budget. A non-positive limit keeps everything.
func Truncate(rows []storage.Row, limit int) []storage.Row {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Finalize dedups, sorts and truncates the accumulated rows of one run.
func Finalize(rows []storage.Row, limit int) []storage.Row {
	return Truncate(SortByPublishDesc(Dedup(rows)), limit)
}

// MergePrior folds rows persisted earlier the same day in front of fresh
// rows, so an identity seen in both keeps the persisted row. The merged set
// is then re-filtered, sorted and truncated.
func MergePrior(existing, fresh []storage.Row, withinHours float64, now time.Time, limit int) []storage.Row {
	merged := make([]storage.Row, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)

	merged = Dedup(merged)
	merged = FilterRecent(merged, withinHours, now)
	return Truncate(SortByPublishDesc(merged), limit)
}
