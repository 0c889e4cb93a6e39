package extract

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/notewatch/internal/storage"
)

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	v, err := Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestExtractJSON(t *testing.T) {
	v, err := ExtractJSON("[info] calling tool\n{\"a\": 1, \"b\": [true]}\ntrailing log line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := v.(*Object)
	if !ok {
		t.Fatalf("expected *Object, got %T", v)
	}
	if obj.Get("a") != json.Number("1") {
		t.Errorf("expected a=1, got %v", obj.Get("a"))
	}

	v, err = ExtractJSON(`  [{"id":"x"}]  `)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arr, ok := v.([]any); !ok || len(arr) != 1 {
		t.Errorf("expected one-element array, got %#v", v)
	}

	if _, err := ExtractJSON("   "); !errors.Is(err, ErrEmptyOutput) {
		t.Errorf("expected ErrEmptyOutput, got %v", err)
	}
	if _, err := ExtractJSON("no payload { here"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}

func TestObject_KeyOrderAndMarshal(t *testing.T) {
	obj := mustDecode(t, `{"z":1,"a":{"y":2,"b":3},"m":null}`).(*Object)
	if got := strings.Join(obj.Keys(), ","); got != "z,a,m" {
		t.Errorf("expected document order z,a,m, got %s", got)
	}
	if _, present := obj.Lookup("m"); !present {
		t.Errorf("expected null member to be present")
	}

	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"z":1,"a":{"y":2,"b":3},"m":null}` {
		t.Errorf("unexpected marshal output %s", out)
	}

	if _, err := Decode([]byte(`{"a":1} extra`)); err == nil {
		t.Errorf("expected trailing data to fail strict decode")
	}
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{nil, 0},
		{true, 1},
		{false, 0},
		{json.Number("56"), 56},
		{json.Number("7.9"), 7},
		{json.Number("-4"), 0},
		{12.7, 12},
		{"1.2万", 12000},
		{"1.2w", 12000},
		{"1.2W", 12000},
		{"3k", 3000},
		{"3千", 3000},
		{"1,234", 1234},
		{" 42 ", 42},
		{"", 0},
		{"abc", 0},
		{"-10", 0},
		{"NaN", 0},
	}
	for _, tt := range tests {
		if got := ToInt(tt.in); got != tt.want {
			t.Errorf("ToInt(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_NestedCard(t *testing.T) {
	payload := mustDecode(t, `{
		"data": {"items": [
			{"id": "f1", "xsecToken": "tok1", "noteCard": {
				"noteId": "n1",
				"displayTitle": "Quiet POS",
				"user": {"nickname": "alice"},
				"interactInfo": {"likedCount": "1.2万", "commentCount": "3"},
				"likedCount": 1,
				"time": 1718457641000
			}},
			{"id": "f1-dup", "noteCard": {"noteId": "n1", "title": "dup"}}
		]}
	}`)

	now := time.Date(2026, 2, 27, 9, 30, 0, 0, time.Local)
	rows := Normalize(payload, "pos", now)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}

	r := rows[0]
	want := storage.Row{
		Keyword:     "pos",
		CrawlTS:     "2026-02-27T09:30:00",
		FeedID:      "f1",
		NoteID:      "n1",
		XsecToken:   "tok1",
		Title:       "Quiet POS",
		Author:      "alice",
		PublishTime: "1718457641000",
		Likes:       12000,
		Comments:    3,
		NoteURL:     NoteURLBase + "n1",
	}
	if r != want {
		t.Errorf("expected %+v, got %+v", want, r)
	}
}

func TestNormalize_PrefersNestedRecord(t *testing.T) {
	payload := mustDecode(t, `{"result": {"wrapper": {
		"title": "outer title",
		"feeds": [{"noteCard": {"noteId": "n9", "title": "inner title", "desc": "inner desc"}}]
	}}}`)

	rows := Normalize(payload, "k", time.Now())
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(rows))
	}
	if rows[0].Title != "inner title" || rows[0].Desc != "inner desc" {
		t.Errorf("expected fields from nested record, got %+v", rows[0])
	}
	if rows[0].FeedID != "n9" {
		t.Errorf("expected feed_id to fall back to card note id, got %q", rows[0].FeedID)
	}
}

func TestNormalize_UniqueAndOrdered(t *testing.T) {
	payload := mustDecode(t, `{
		"b": [{"note_id": "2", "title": "second"}],
		"a": [{"note_id": "1"}, {"note_id": "2", "title": "later dup"}, {"noteId": 3, "url": "https://example.com/3"}]
	}`)

	rows := Normalize(payload, "k", time.Now())
	var ids []string
	seen := map[string]bool{}
	for _, r := range rows {
		if seen[r.NoteID] {
			t.Errorf("duplicate note_id %s", r.NoteID)
		}
		seen[r.NoteID] = true
		ids = append(ids, r.NoteID)
	}
	if got := strings.Join(ids, ","); got != "2,1,3" {
		t.Errorf("expected encounter order 2,1,3, got %s", got)
	}
	if rows[0].Title != "second" {
		t.Errorf("expected first occurrence to win, got %q", rows[0].Title)
	}
	if rows[2].NoteURL != "https://example.com/3" {
		t.Errorf("expected explicit url, got %q", rows[2].NoteURL)
	}
}

func TestNormalize_MalformedShapes(t *testing.T) {
	if rows := Normalize("just text", "k", time.Now()); len(rows) != 0 {
		t.Errorf("expected no rows for scalar payload, got %d", len(rows))
	}
	if rows := Normalize(nil, "k", time.Now()); len(rows) != 0 {
		t.Errorf("expected no rows for nil payload, got %d", len(rows))
	}

	payload := mustDecode(t, `[{"id": "x", "interactInfo": "broken", "user": ["no"], "title": {"nested": true}, "likes": "7"}]`)
	rows := Normalize(payload, "k", time.Now())
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Title != "" || rows[0].Author != "" {
		t.Errorf("expected wrong-typed fields to degrade to empty, got %+v", rows[0])
	}
	if rows[0].Likes != 7 {
		t.Errorf("expected flat likes fallback 7, got %d", rows[0].Likes)
	}
}

func TestMergeDetail_NonObjectIsIdentity(t *testing.T) {
	row := storage.Row{NoteID: "n1", Title: "t", Likes: 3, DetailContent: "c"}
	for _, detail := range []any{nil, "oops", []any{json.Number("1")}, json.Number("2")} {
		if got := MergeDetail(row, detail); got != row {
			t.Errorf("expected identity for %#v, got %+v", detail, got)
		}
	}
}

func TestMergeDetail_PrecedenceAndPreservation(t *testing.T) {
	row := storage.Row{
		NoteID:      "n1",
		Title:       "list title",
		Author:      "bob",
		PublishTime: "2026-02-27T08:00:00",
		Likes:       1,
		Comments:    4,
	}
	detail := mustDecode(t, `{"data": {"note": {
		"title": "detail title",
		"likes": 2,
		"interactInfo": {"likedCount": "5"},
		"desc": "full body",
		"tagList": [{"name": "a"}, {"name": " "}, "b", {"tagName": "c"}]
	}}}`)

	got := MergeDetail(row, detail)
	if got.Title != "detail title" {
		t.Errorf("expected detail title, got %q", got.Title)
	}
	if got.Author != "bob" || got.PublishTime != row.PublishTime || got.Comments != 4 {
		t.Errorf("expected missing detail fields to keep row values, got %+v", got)
	}
	if got.Likes != 5 {
		t.Errorf("expected interaction sub-object to win, got %d", got.Likes)
	}
	if !got.DetailOpened {
		t.Errorf("expected detail_opened for populated note")
	}
	if got.DetailContent != "full body" {
		t.Errorf("expected detail content, got %q", got.DetailContent)
	}
	if got.DetailTags != "a|b|c" {
		t.Errorf("expected tags a|b|c, got %q", got.DetailTags)
	}
	if row.Title != "list title" {
		t.Errorf("input row was mutated")
	}
}

func TestMergeDetail_Unopened(t *testing.T) {
	row := storage.Row{NoteID: "n1", Title: "t", Likes: 9, DetailContent: "prev", DetailTags: "x"}

	got := MergeDetail(row, UnopenedPlaceholder())
	if got.DetailOpened {
		t.Errorf("expected placeholder to be unopened")
	}
	want := row
	if got != want {
		t.Errorf("expected placeholder merge to keep row, got %+v", got)
	}

	detail := mustDecode(t, `{"_opened": false, "note": {"desc": "should not land", "tags": "y"}}`)
	got = MergeDetail(row, detail)
	if got.DetailOpened || got.DetailContent != "prev" || got.DetailTags != "x" {
		t.Errorf("expected unopened detail to leave content and tags, got %+v", got)
	}
}

func TestMergeDetail_ScalarTagsAndMarkup(t *testing.T) {
	detail := mustDecode(t, `{"note": {"content": "<p>hello</p><p>world<br>again</p>", "tags": "solo"}}`)
	got := MergeDetail(storage.Row{NoteID: "n"}, detail)
	if got.DetailTags != "solo" {
		t.Errorf("expected scalar tag, got %q", got.DetailTags)
	}
	if got.DetailContent != "hello\nworld\nagain" {
		t.Errorf("expected markup stripped, got %q", got.DetailContent)
	}

	if s := plainText("a < b and c > d"); s != "a < b and c > d" {
		t.Errorf("expected plain text untouched, got %q", s)
	}
}

func TestPlainText_LiteralTags(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"use <b>bold</b> here", "use <b>bold</b> here"},
		{"<span>not html</span> & <i>x</i>", "<span>not html</span> & <i>x</i>"},
		{"<p>use <b>bold</b></p>", "use bold"},
		{"line<BR/>next", "line\nnext"},
	}
	for _, tt := range tests {
		if got := plainText(tt.in); got != tt.want {
			t.Errorf("plainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	detail := mustDecode(t, `{"note": {"content": "use <b>bold</b>"}}`)
	if got := MergeDetail(storage.Row{NoteID: "n"}, detail); got.DetailContent != "use <b>bold</b>" {
		t.Errorf("expected description taken as-is, got %q", got.DetailContent)
	}
}
