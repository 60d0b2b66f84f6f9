package cache

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	unsafeKey  = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
)

// Normalize turns a label into a stable path segment: diacritics stripped,
// whitespace collapsed to '-', anything outside [A-Za-z0-9-_] dropped,
// lowercased. An empty label becomes "curso".
func Normalize(s string) string {
	if s == "" {
		s = "curso"
	}
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := whitespace.ReplaceAllString(b.String(), "-")
	out = unsafeKey.ReplaceAllString(out, "")
	return strings.ToLower(out)
}

// BlobKey is the deterministic storage key of the aggregate report of a period
// and program. Resubmissions overwrite it.
func BlobKey(period, program string) string {
	return "reports/ead/" + Normalize(period) + "/" + Normalize(program) + "/todos-os-polos.pdf"
}
