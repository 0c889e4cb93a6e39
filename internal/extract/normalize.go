package extract

import (
	"time"

	"github.com/FranksOps/notewatch/internal/storage"
)

// CrawlTSLayout is the second-precision local timestamp stamped on rows.
const CrawlTSLayout = "2006-01-02T15:04:05"

// accumulator collects rows during one normalization pass. The seen set is
// owned by the caller of walk, never shared between passes.
type accumulator struct {
	keyword string
	crawlTS string
	seen    map[string]struct{}
	rows    []storage.Row
}

// Normalize projects every record candidate found in payload into a
// canonical row. Rows come back in document order and note ids are unique.
// Malformed shapes degrade to default field values; Normalize never fails.
func Normalize(payload any, keyword string, now time.Time) []storage.Row {
	acc := &accumulator{
		keyword: keyword,
		crawlTS: now.Format(CrawlTSLayout),
		seen:    make(map[string]struct{}),
	}
	acc.walk(payload)
	return acc.rows
}

// walk visits nodes depth first. A candidate is emitted before its
// children are visited, and its children are still searched.
func (a *accumulator) walk(node any) {
	switch n := node.(type) {
	case []any:
		for _, child := range n {
			a.walk(child)
		}
	case *Object:
		if isCandidate(n) {
			a.add(n)
		}
		for _, k := range n.Keys() {
			a.walk(n.Get(k))
		}
	}
}

func cardOf(item *Object) *Object {
	for _, k := range cardKeys {
		if card, ok := item.Object(k); ok {
			return card
		}
	}
	return nil
}

func isCandidate(item *Object) bool {
	card := cardOf(item)
	for _, obj := range []*Object{item, card} {
		for _, k := range candidateKeys {
			if v := firstScalar(obj.Get(k)); v != nil && truthy(v) {
				return true
			}
		}
	}
	return false
}

func (a *accumulator) add(item *Object) {
	v := view{item: item, card: cardOf(item)}
	if v.card == nil {
		v.card = item
	}

	feedID := asString(v.resolve(searchFields[fieldFeedID]))
	noteID := asString(v.resolve(searchFields[fieldNoteID]))
	if noteID == "" {
		noteID = feedID
	}
	if noteID == "" {
		return
	}
	if _, dup := a.seen[noteID]; dup {
		return
	}
	a.seen[noteID] = struct{}{}

	v.interact = v.firstObject(searchSubObjects[fromInteract])
	v.user = v.firstObject(searchSubObjects[fromUser])

	row := storage.Row{
		Keyword:     a.keyword,
		CrawlTS:     a.crawlTS,
		FeedID:      feedID,
		NoteID:      noteID,
		XsecToken:   asString(v.resolve(searchFields[fieldToken])),
		Title:       asString(v.resolve(searchFields[fieldTitle])),
		Author:      asString(v.resolve(searchFields[fieldAuthor])),
		PublishTime: asString(v.resolve(searchFields[fieldPublishTime])),
		Desc:        asString(v.resolve(searchFields[fieldDesc])),
		Likes:       ToInt(v.resolve(searchFields[fieldLikes])),
		Comments:    ToInt(v.resolve(searchFields[fieldComments])),
		Collects:    ToInt(v.resolve(searchFields[fieldCollects])),
		Shares:      ToInt(v.resolve(searchFields[fieldShares])),
		NoteURL:     asString(v.resolve(searchFields[fieldURL])),
	}
	if row.NoteURL == "" {
		row.NoteURL = NoteURLBase + noteID
	}

	a.rows = append(a.rows, row)
}
