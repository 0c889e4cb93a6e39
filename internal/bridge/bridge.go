// Package bridge talks to the external tool capability that performs the
// actual platform searches and note lookups. Two transports are provided:
// a local CLI toolchain (agent-reach + mcporter) and an HTTP tool gateway.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/FranksOps/notewatch/internal/extract"
)

// Bridge is the contract the collector depends on. Implementations must
// honor ctx deadlines; retries are the caller's concern.
type Bridge interface {
	// Ready verifies the capability is installed and healthy.
	Ready(ctx context.Context) error
	// Search returns the raw search payload for keyword.
	Search(ctx context.Context, keyword string) (any, error)
	// Detail returns the raw detail payload for one feed item.
	Detail(ctx context.Context, feedID, xsecToken string) (any, error)
}

// Tool names and argument keys understood by the capability.
const (
	SearchTool = "xiaohongshu.search_feeds"
	DetailTool = "xiaohongshu.get_feed_detail"

	ArgKeyword   = "keyword"
	ArgFeedID    = "feed_id"
	ArgXsecToken = "xsec_token"
)

// RawOutputKey wraps tool output that carried no JSON at all.
const RawOutputKey = "raw_output"

// Error is a bridge failure. Msg is human readable and is what ends up in
// error reports. Blocked names the protection that rejected the call, if
// one was recognized.
type Error struct {
	Op      string
	Msg     string
	Blocked string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Arg is one named tool argument. Order is preserved in call expressions.
type Arg struct {
	Name  string
	Value string
}

// Quote renders s as a double-quoted call literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// Expr renders a tool call expression: tool(name: "value", ...).
func Expr(tool string, args ...Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%s: %s", a.Name, Quote(a.Value))
	}
	return tool + "(" + strings.Join(parts, ", ") + ")"
}

func searchArgs(keyword string) []Arg {
	return []Arg{{Name: ArgKeyword, Value: keyword}}
}

func detailArgs(feedID, xsecToken string) []Arg {
	return []Arg{{Name: ArgFeedID, Value: feedID}, {Name: ArgXsecToken, Value: xsecToken}}
}

// decodeOutput extracts the JSON payload from tool output. Output without
// any JSON is kept verbatim under RawOutputKey.
func decodeOutput(out string) any {
	if v, err := extract.ExtractJSON(out); err == nil {
		return v
	}
	raw := extract.NewObject()
	raw.Set(RawOutputKey, out)
	return raw
}
