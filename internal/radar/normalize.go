package radar

import (
	"net/url"
	"regexp"
	"strings"
)

// schemePrefix matches an RFC 3986 scheme at the start of the string only, so
// a URL embedded in the query does not count.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Normalize maps a raw URL to its canonical identity form: trimmed, scheme
// defaulted to http, scheme and host lower-cased, trailing slashes removed from
// the path (an empty path becomes "/"), query and fragment dropped.
//
// It never fails. Empty input is returned as is, and unparsable input degrades
// to the trimmed string with any query or fragment cut off. Normalize is
// idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	if !schemePrefix.MatchString(s) {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return cutQuery(strings.TrimSpace(raw))
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	return b.String()
}

func cutQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
