package repository

import (
	"github.com/tphakala/readerstudy/internal/errors"
	"gorm.io/gorm"
)

// Sentinel errors for repository operations.
// These typed errors enable callers to distinguish between different
// failure modes without relying on string matching or GORM-specific errors.
var (
	// ErrReaderNotFound indicates the requested reader does not exist.
	ErrReaderNotFound = errors.NewStd("reader not found")

	// ErrSessionNotFound indicates the requested study session does not exist.
	ErrSessionNotFound = errors.NewStd("study session not found")

	// ErrProgressNotFound indicates a session has no progress row.
	ErrProgressNotFound = errors.NewStd("session progress not found")

	// ErrResultNotFound indicates no result exists for the session and case.
	ErrResultNotFound = errors.NewStd("study result not found")

	// ErrConfigNotFound indicates the study configuration row is missing.
	ErrConfigNotFound = errors.NewStd("study config not found")

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewStd("duplicate key")

	// ErrStaleProgress indicates the progress pointer moved since it was read.
	ErrStaleProgress = errors.NewStd("session progress changed concurrently")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

// isDuplicate reports whether err is a translated unique violation.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicateKey)
}

// notFound maps gorm.ErrRecordNotFound to sentinel, passing other errors through.
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
