package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlRe      = regexp.MustCompile(`(?i)<(?:br|p|div)\b[^>]*>`)
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div)>`)
)

// plainText strips markup from detail content rendered as HTML, which
// always carries line or paragraph tags. Anything else is user text and
// passes through untouched, including literal tags such as "<b>".
func plainText(s string) string {
	if !htmlRe.MatchString(s) {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(lineBreakRe.ReplaceAllString(s, "\n$0")))
	if err != nil {
		return s
	}

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
