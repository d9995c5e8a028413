package transport

import (
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be redacted
// from logs. Matched case-insensitively as substrings.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
}

// RedactedURL renders the request target for logging: the resolved URL
// with the query string attached and sensitive parameter values redacted.
// Requests that cannot resolve a URL fall back to the bare path so logging
// never fails.
func (r *Request) RedactedURL() string {
	if r.finalURL != "" {
		return SanitizeURL(r.finalURL)
	}

	base, err := r.URL()
	if err != nil {
		return r.Path
	}
	u, err := url.Parse(base)
	if err != nil {
		return r.Path
	}
	query := u.Query()
	if err := encodeParams(query, r.Params); err == nil {
		u.RawQuery = query.Encode()
	}
	return SanitizeURL(u.String())
}

// SanitizeURL redacts sensitive query parameters from a URL before logging.
// Unparseable input is returned unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
			changed = true
		}
	}
	if !changed {
		return raw
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
// Comparison is case-insensitive to catch variants like "API_KEY", "Api_Key".
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
