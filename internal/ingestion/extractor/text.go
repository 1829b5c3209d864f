package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	tagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

func sanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}
	// replace invalid sequences with a space so words stay separated
	return strings.ToValidUTF8(s, " ")
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, " ")
}

// tidy normalizes line endings and trailing space without joining lines.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t\r")
	}
	s = strings.Join(lines, "\n")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func isHTML(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/html") {
			return true
		}
	}
	return false
}

func baseMIME(m *mimetype.MIME) string {
	if m == nil {
		return "application/octet-stream"
	}
	s := m.String()
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
