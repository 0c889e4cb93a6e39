package extract

import (
	"errors"
	"strings"
)

var (
	ErrEmptyOutput = errors.New("extract: empty output")
	ErrNoJSON      = errors.New("extract: no JSON payload found in output")
)

// ExtractJSON returns the JSON value embedded in noisy command output. The
// whole text is tried first; otherwise the first '{' or '[' that starts a
// decodable value wins and anything after that value is ignored.
func ExtractJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyOutput
	}

	if v, err := Decode([]byte(text)); err == nil {
		return v, nil
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := newDecoder(strings.NewReader(text[i:]))
		if v, err := decodeValue(dec); err == nil {
			return v, nil
		}
	}

	return nil, ErrNoJSON
}
