// Package secrets resolves credentials from mounted secret files or
// environment references. Secret values are never logged or included in
// errors.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

const (
	// maxSecretFileSize limits secret file reads; secrets are tokens and
	// passwords, not documents
	maxSecretFileSize = 64 * 1024

	// permissive is the mask of group/other permission bits
	permissive = 0o077
)

// Expand substitutes ${VAR} and ${VAR:-fallback} references in s. Values
// without a ${ sequence are returned unchanged, so literal passwords may
// contain a dollar sign.
func Expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a file such as /run/secrets/jwt_secret.
// Trailing newlines are trimmed. A file readable by group or others is
// accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", configError("secret file path is empty", "")
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", cleanPath).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", configError("secret path is not a regular file", cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", configError("secret file is too large", cleanPath)
	}

	if perm := info.Mode().Perm(); perm&permissive != 0 {
		logger.Global().Module("secrets").Warn("Secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", cleanPath).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", configError("secret file is empty", cleanPath)
	}
	return secret, nil
}

// Resolve returns the secret for a setting. A file path wins over the inline
// value; an inline value is expanded for environment references.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return Expand(value)
}

func configError(msg, path string) error {
	b := errors.Newf("%s", msg).
		Component("secrets").
		Category(errors.CategoryConfiguration)
	if path != "" {
		b = b.Context("path", path)
	}
	return b.Build()
}
