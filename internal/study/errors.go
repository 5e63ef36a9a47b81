package study

import (
	"strconv"

	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/errors"
)

func conflictError(msg string, context map[string]any) error {
	b := errors.New(errors.NewStd(msg)).
		Component("study").
		Category(errors.CategoryConflict)
	for k, v := range context {
		b = b.Context(k, v)
	}
	return b.Build()
}

func authorizationError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("study").
		Category(errors.CategoryAuthorization).
		Build()
}

func notFoundError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("study").
		Category(errors.CategoryNotFound).
		Build()
}

func stateError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("study").
		Category(errors.CategoryState).
		Build()
}

// storageError wraps a datastore failure. Retrying the request is safe.
func storageError(msg string, err error) error {
	return errors.New(err).
		Component("study").
		Category(errors.CategoryDatabase).
		Priority(errors.PriorityHigh).
		Context("operation", msg).
		Build()
}

// resultWriteError wraps a failure to persist a reader's result. The
// submission is lost unless the client retries it.
func resultWriteError(err error) error {
	return errors.New(err).
		Component("study").
		Category(errors.CategoryDatabase).
		Priority(errors.PriorityCritical).
		Context("operation", "advance session").
		Build()
}

// requireAdmin rejects callers without the admin role.
func requireAdmin(id auth.Identity) error {
	if !id.IsAdmin() {
		return authorizationError("admin role required")
	}
	return nil
}

// requireReader rejects callers that cannot take part in sessions.
func requireReader(id auth.Identity) error {
	if id.IsAdmin() || id.ReaderID == 0 {
		return authorizationError("only readers can work on study sessions")
	}
	return nil
}

// actorID is the audit reader ID of an admin actor. Shell commands act as
// an anonymous admin with ID 0 and are logged without a reader.
func actorID(id auth.Identity) *uint {
	if id.ReaderID == 0 {
		return nil
	}
	readerID := id.ReaderID
	return &readerID
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
