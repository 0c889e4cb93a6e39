package rowset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	msThreshold  = 1e12
	secThreshold = 1e9
)

// isoLayouts are tried in order once a value is known not to be an epoch.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ResolveTimestamp converts a publish time into epoch seconds. Numbers and
// digit-only strings are epochs: above 1e12 they are milliseconds, above 1e9
// seconds, anything smaller is implausible and yields 0. Other strings are
// parsed as ISO-8601, with a missing offset meaning UTC. Unparseable input
// yields 0.
func ResolveTimestamp(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		return 0
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	case float64:
		return fromEpoch(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return fromEpoch(f)
	case string:
		return resolveString(t)
	}
	return 0
}

func resolveString(s string) int64 {
	text := strings.TrimSpace(s)
	if text == "" {
		return 0
	}
	if isDigits(text) {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0
		}
		return fromEpoch(f)
	}

	if strings.HasSuffix(text, "Z") || strings.HasSuffix(text, "z") {
		text = text[:len(text)-1] + "+00:00"
	}
	for _, layout := range isoLayouts {
		if ts, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return ts.Unix()
		}
	}
	return 0
}

func fromEpoch(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	switch {
	case f > msThreshold:
		return clampEpoch(f / 1000)
	case f > secThreshold:
		return clampEpoch(f)
	}
	return 0
}

// clampEpoch converts without wrapping; float64(math.MaxInt64) is 2^63.
func clampEpoch(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
