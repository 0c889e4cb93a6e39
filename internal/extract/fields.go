package extract

// scope selects which object of a candidate record a source key is read from.
type scope int

const (
	fromItem scope = iota
	fromCard
	fromInteract
	fromUser
)

// source is one candidate location for a canonical field.
type source struct {
	scope scope
	key   string
}

func keys(s scope, names ...string) []source {
	out := make([]source, len(names))
	for i, n := range names {
		out[i] = source{scope: s, key: n}
	}
	return out
}

func join(groups ...[]source) []source {
	var out []source
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// field names a canonical row attribute resolved from a payload.
type field string

const (
	fieldFeedID      field = "feed_id"
	fieldNoteID      field = "note_id"
	fieldToken       field = "xsec_token"
	fieldTitle       field = "title"
	fieldAuthor      field = "author"
	fieldPublishTime field = "publish_time"
	fieldDesc        field = "desc"
	fieldLikes       field = "likes"
	fieldComments    field = "comments"
	fieldCollects    field = "collects"
	fieldShares      field = "shares"
	fieldURL         field = "note_url"
	fieldContent     field = "detail_content"
	fieldTags        field = "detail_tags"
)

// NoteURLBase prefixes synthesized note URLs.
const NoteURLBase = "https://www.xiaohongshu.com/explore/"

// cardKeys name the nested sub-object that some payload variants wrap the
// actual note in.
var cardKeys = []string{"noteCard", "note_card"}

// candidateKeys mark an object (or its card) as a record candidate.
var candidateKeys = []string{"note_id", "noteId", "id", "feed_id"}

var (
	likeKeys    = []string{"liked_count", "like_count", "likedCount", "likeCount"}
	commentKeys = []string{"comment_count", "commentCount"}
	collectKeys = []string{"collected_count", "collect_count", "collectedCount", "collectCount"}
	shareKeys   = []string{"share_count", "shared_count", "shareCount", "sharedCount"}
)

// searchSubObjects locate the interaction and user objects of a search
// candidate. The first non-empty object wins.
var searchSubObjects = map[scope][]source{
	fromInteract: join(
		keys(fromCard, "interactInfo", "interact_info", "interaction"),
		keys(fromItem, "interactInfo", "interact_info"),
	),
	fromUser: join(
		keys(fromCard, "user", "author"),
		keys(fromItem, "user", "author"),
	),
}

// searchFields maps each canonical field to its ordered source list for
// search payloads.
var searchFields = map[field][]source{
	fieldFeedID: join(
		keys(fromItem, "id", "feed_id", "feedId"),
		keys(fromCard, "id", "feed_id", "feedId", "noteId", "note_id"),
	),
	fieldNoteID: join(
		keys(fromCard, "noteId", "note_id"),
		keys(fromItem, "noteId", "note_id"),
	),
	fieldToken: join(
		keys(fromItem, "xsecToken", "xsec_token"),
		keys(fromCard, "xsecToken", "xsec_token"),
	),
	fieldTitle: join(
		keys(fromCard, "title", "displayTitle", "display_title", "note_title", "name"),
		keys(fromItem, "title", "displayTitle"),
	),
	fieldAuthor: join(
		keys(fromUser, "nickname", "nickName", "nick_name", "name", "username"),
		keys(fromCard, "author", "nickname"),
		keys(fromItem, "author", "nickname"),
	),
	fieldPublishTime: join(
		keys(fromCard, "time", "publish_time", "publishTime"),
		keys(fromItem, "time", "publish_time", "publishTime"),
	),
	fieldDesc: join(
		keys(fromCard, "desc", "description", "content", "note_content"),
		keys(fromItem, "desc", "description"),
	),
	fieldLikes: join(
		keys(fromInteract, likeKeys...),
		keys(fromCard, append(likeKeys, "likes")...),
		keys(fromItem, append(likeKeys, "likes")...),
	),
	fieldComments: join(
		keys(fromInteract, commentKeys...),
		keys(fromCard, append(commentKeys, "comments")...),
		keys(fromItem, append(commentKeys, "comments")...),
	),
	fieldCollects: join(
		keys(fromInteract, collectKeys...),
		keys(fromCard, append(collectKeys, "collects")...),
		keys(fromItem, append(collectKeys, "collects")...),
	),
	fieldShares: join(
		keys(fromInteract, shareKeys...),
		keys(fromCard, append(shareKeys, "shares")...),
		keys(fromItem, append(shareKeys, "shares")...),
	),
	fieldURL: join(
		keys(fromCard, "note_url", "url"),
		keys(fromItem, "note_url", "url"),
	),
}

// detailSubObjects locate interaction and user objects inside a detail note.
// In a detail view item and card both point at the note.
var detailSubObjects = map[scope][]source{
	fromInteract: keys(fromCard, "interactInfo", "interact_info"),
	fromUser:     keys(fromCard, "user"),
}

// detailFields lists detail-side sources. The row's previous value is the
// implicit last candidate for every field.
var detailFields = map[field][]source{
	fieldTitle:       keys(fromCard, "title", "displayTitle"),
	fieldAuthor:      join(keys(fromUser, "nickname", "nickName"), keys(fromCard, "author")),
	fieldPublishTime: keys(fromCard, "time", "publish_time", "publishTime"),
	fieldLikes: join(
		keys(fromInteract, "likedCount", "likeCount", "liked_count", "like_count"),
		keys(fromCard, "likes"),
	),
	fieldComments: join(
		keys(fromInteract, "commentCount", "comment_count"),
		keys(fromCard, "comments"),
	),
	fieldCollects: join(
		keys(fromInteract, "collectedCount", "collectCount", "collected_count", "collect_count"),
		keys(fromCard, "collects"),
	),
	fieldShares: join(
		keys(fromInteract, "sharedCount", "shareCount", "shared_count", "share_count"),
		keys(fromCard, "shares"),
	),
	fieldContent: keys(fromCard, "desc", "content", "description"),
	fieldTags:    keys(fromCard, "tagList", "tags"),
}

// view binds the objects a source list is resolved against.
type view struct {
	item, card, interact, user *Object
}

func (v view) object(s scope) *Object {
	switch s {
	case fromItem:
		return v.item
	case fromCard:
		return v.card
	case fromInteract:
		return v.interact
	case fromUser:
		return v.user
	}
	return nil
}

// values returns the raw values for srcs in order, nil where absent.
func (v view) values(srcs []source) []any {
	out := make([]any, len(srcs))
	for i, s := range srcs {
		out[i] = v.object(s.scope).Get(s.key)
	}
	return out
}

// resolve returns the first non-blank scalar among srcs.
func (v view) resolve(srcs []source) any {
	return firstScalar(v.values(srcs)...)
}

// firstObject returns the first non-empty object among srcs.
func (v view) firstObject(srcs []source) *Object {
	for _, s := range srcs {
		if obj, ok := v.object(s.scope).Object(s.key); ok && obj.Len() > 0 {
			return obj
		}
	}
	return nil
}
