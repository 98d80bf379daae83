package logger

import (
	"net/url"
	"regexp"
)

// sensitiveDataPatterns match credentials that must never reach log output.
// Each keeps its first group and replaces the rest.
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	// an authorization scheme stays in the kept prefix
	regexp.MustCompile(`(?i)((?:api|access|auth|token|secret|key|passw(?:or)?d)[0-9a-z\-_\.]*[\s:=]+(?:(?:bearer|basic|digest)\s+)?)([^;,\s]{5,})`),
	regexp.MustCompile(`(?i)((?:session|auth|token|csrf|sid)=)([^;,\s]{5,})`),
}

// RedactSensitiveData replaces tokens, keys and passwords with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// RedactURL strips user info and query values from a URL so channel endpoints
// and push service URLs can be logged. Unparseable input is redacted whole.
func RedactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		u.User = url.User("[REDACTED]")
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "[REDACTED]")
		}
		u.RawQuery = q.Encode()
	}
	s, err := url.PathUnescape(u.String())
	if err != nil {
		return u.String()
	}
	return s
}
