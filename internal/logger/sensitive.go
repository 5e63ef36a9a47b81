package logger

import (
	"regexp"
	"strings"
)

// sensitiveDataPatterns match credentials that must never reach log output
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`),
	regexp.MustCompile(`(?i)((token|secret|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,&\s]{3,})`),
}

var sensitiveKeywords = []string{"password", "passwd", "secret", "token", "authorization", "cookie"}

// RedactSensitiveData replaces tokens, passwords and JWTs with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// IsSensitiveKey reports whether a field or header name likely carries a secret
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}
