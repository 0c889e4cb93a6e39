package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// isBlank reports whether v is absent or a whitespace-only string.
func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, bool, float64, float32, int, int64, int32:
		return true
	}
	return false
}

// firstScalar returns the first non-blank scalar value. Objects and arrays
// are skipped so a wrong-typed field falls through to the next candidate.
func firstScalar(values ...any) any {
	for _, v := range values {
		if isBlank(v) || !isScalar(v) {
			continue
		}
		return v
	}
	return nil
}

// asString stringifies a scalar; anything else becomes "".
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}

// truthy follows JSON-ish truthiness: false, null, 0, "" and empty
// containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case *Object:
		return t.Len() > 0
	}
	return true
}

// ToInt converts a count into a non-negative integer. Textual counts may
// carry a magnitude suffix: "1.2万" and "1.2w" mean 12000, "3k" and "3千"
// mean 3000. Unparseable input yields 0.
func ToInt(v any) int64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case float32:
		f = float64(t)
	case float64:
		f = t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return clampCount(n)
		}
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		return parseCountText(t)
	default:
		return 0
	}
	return floatCount(f)
}

func parseCountText(s string) int64 {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(text, "w"):
		mult, text = 10000, strings.TrimSuffix(text, "w")
	case strings.HasSuffix(text, "万"):
		mult, text = 10000, strings.TrimSuffix(text, "万")
	case strings.HasSuffix(text, "k"):
		mult, text = 1000, strings.TrimSuffix(text, "k")
	case strings.HasSuffix(text, "千"):
		mult, text = 1000, strings.TrimSuffix(text, "千")
	}
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return floatCount(f * mult)
}

func floatCount(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func clampCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
