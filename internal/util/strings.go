// Package util provides small shared helpers used across the auth core:
// URL normalization for resource/audience comparison and safe string
// truncation for logging.
package util

import (
	"net/url"
	"strings"
)

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging sensitive values like token ids, where only a prefix
// should appear. Negative maxLen yields an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL canonicalizes a URL for RFC 8707 resource identifier and
// audience comparison: a single trailing slash is stripped from the path
// (including a bare "/") while scheme, host, query and fragment are kept.
//
//	NormalizeURL("https://example.com/")        // "https://example.com"
//	NormalizeURL("https://example.com/mcp/")    // "https://example.com/mcp"
//	NormalizeURL("https://example.com/a/?q=1")  // "https://example.com/a?q=1"
//
// Values that do not parse as URLs fall back to stripping one trailing
// slash from the raw string.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
