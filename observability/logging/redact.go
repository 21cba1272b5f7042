package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Key fragments that mark a field as secret. Matching is case-insensitive.
var sensitiveFragments = []string{"secret", "token", "password", "passwd", "authorization", "apikey", "api_key"}

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// MaskField returns an attribute for key, masking non-empty values of
// sensitive keys. An empty secret is logged as-is so a missing setting stays
// visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN hides the password of a database DSN in URL form
// (postgres://user:pw@host/db) or key/value form (password=pw host=...).
// Plain sqlite paths are returned unchanged.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return strings.Replace(u.String(), "xxxxx", RedactedValue, 1)
		}
		return dsn
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+RedactedValue)
}
