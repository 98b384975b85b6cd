package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Value patterns masked wherever they appear in a string attribute.
var (
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
	apiKeyPattern = regexp.MustCompile(`\b(sk|gsk|xai)-[a-zA-Z0-9_\-]{8,}`)
)

// sensitiveKeys are attribute key fragments whose values are masked outright.
var sensitiveKeys = []string{
	"api_key", "apikey",
	"secret", "token", "password",
	"authorization",
}

// redactAttr is a slog ReplaceAttr hook.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactSecret(a.Value.String()))
	}
	return slog.String(a.Key, RedactString(a.Value.String()))
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactString masks bearer tokens and provider keys embedded in s.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer ***")
	return apiKeyPattern.ReplaceAllString(s, "$1-***")
}

// RedactSecret masks a secret, keeping a four character prefix for
// identification when the secret is long enough to spare it.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
