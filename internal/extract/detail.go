package extract

import (
	"strings"

	"github.com/FranksOps/notewatch/internal/storage"
)

// OpenedKey is the explicit open flag a detail payload may carry. Callers
// substitute {"_opened": false} for a detail fetch that failed.
const OpenedKey = "_opened"

// UnopenedPlaceholder returns the detail value used after a failed fetch.
func UnopenedPlaceholder() *Object {
	o := NewObject()
	o.Set(OpenedKey, false)
	return o
}

// noteOf unwraps data.note or note, falling back to the detail itself.
func noteOf(detail *Object) *Object {
	if data, ok := detail.Object("data"); ok {
		if note, ok := data.Object("note"); ok {
			return note
		}
	}
	if note, ok := detail.Object("note"); ok {
		return note
	}
	return detail
}

// MergeDetail folds a detail payload into row and returns the result. A
// field the detail leaves empty keeps the row's previous value. Content and
// tags only change when the detail was opened. A detail that is not an
// object leaves row untouched.
func MergeDetail(row storage.Row, detail any) storage.Row {
	obj, ok := detail.(*Object)
	if !ok || obj == nil {
		return row
	}

	note := noteOf(obj)
	merged := row

	if flag, present := obj.Lookup(OpenedKey); present && flag != nil {
		merged.DetailOpened = truthy(flag)
	} else {
		merged.DetailOpened = note.Len() > 0
	}

	v := view{item: note, card: note}
	v.interact = v.firstObject(detailSubObjects[fromInteract])
	v.user = v.firstObject(detailSubObjects[fromUser])

	pick := func(f field, prev string) string {
		if s := asString(v.resolve(detailFields[f])); s != "" {
			return s
		}
		return prev
	}
	count := func(f field, prev int64) int64 {
		if val := v.resolve(detailFields[f]); val != nil {
			return ToInt(val)
		}
		return prev
	}

	merged.Title = pick(fieldTitle, row.Title)
	merged.Author = pick(fieldAuthor, row.Author)
	merged.PublishTime = pick(fieldPublishTime, row.PublishTime)
	merged.Likes = count(fieldLikes, row.Likes)
	merged.Comments = count(fieldComments, row.Comments)
	merged.Collects = count(fieldCollects, row.Collects)
	merged.Shares = count(fieldShares, row.Shares)

	if !merged.DetailOpened {
		return merged
	}

	if content := asString(v.resolve(detailFields[fieldContent])); content != "" {
		merged.DetailContent = plainText(content)
	}
	if tags, ok := resolveTags(note); ok {
		merged.DetailTags = tags
	}
	return merged
}

// resolveTags returns the pipe-joined tag list. ok is false when the note
// supplies no tag value at all.
func resolveTags(note *Object) (string, bool) {
	var raw any
	for _, src := range detailFields[fieldTags] {
		if val := note.Get(src.key); !isBlank(val) {
			raw = val
			break
		}
	}

	switch t := raw.(type) {
	case nil:
		return "", false
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			var text string
			if tag, ok := item.(*Object); ok {
				text = asString(firstScalar(tag.Get("name"), tag.Get("tagName"), tag.Get("text")))
			} else {
				text = asString(item)
			}
			if text = strings.TrimSpace(text); text != "" {
				out = append(out, text)
			}
		}
		return strings.Join(out, "|"), true
	case *Object:
		return "", false
	default:
		if !truthy(t) {
			return "", false
		}
		return asString(t), true
	}
}
