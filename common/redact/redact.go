// Package redact strips credentials from strings and structured values
// before they are logged.
//
// Server passwords, LLM API keys and access tokens must never appear in log
// lines, the command history, or operator-facing messages. Redaction here is
// best-effort and string based; keeping secrets away from log call-sites
// remains the first line of defence.
package redact

import (
	"net/url"
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s. Values
// shorter than 4 characters are skipped.
//
//	slog.Warn("ssh dial failed", "err", redact.String(err.Error(), password))
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map returns a shallow copy of m where non-empty string values under
// secret-looking keys are replaced.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && isSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// URL removes a password from the userinfo of raw (channel URLs, broker
// addresses). Unparseable input is returned unchanged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), placeholder)
	}
	return u.String()
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
