package feed

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier canonicalizes a handle, numeric id or URL before it is used
// for a lookup or a cache key. Handles are lower-cased with any leading '@' removed.
// URLs keep their path as-is but get a lower-cased scheme and host.
func NormalizeIdentifier(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err == nil && u.Host != "" {
			u.Scheme = strings.ToLower(u.Scheme)
			u.Host = strings.ToLower(u.Host)
			u.Fragment = ""
			return u.String()
		}
	}

	s = strings.TrimPrefix(s, "@")
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Lower(language.Und).String(s)
}
