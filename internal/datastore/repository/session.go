package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// AdvanceParams describes one atomic submit-and-advance step.
//
// ExpectedBlock and ExpectedIndex are the stored pointer values the caller
// read; the update only applies if they are still current.
type AdvanceParams struct {
	SessionID          uint
	ExpectedGeneration int // session generation the pointer was read under
	ExpectedBlock      entities.Block
	ExpectedIndex      int
	NextBlock          entities.Block
	NextIndex          int
	CompletedCaseIDs   []string // full completed set after this submission
	Result             *entities.StudyResult
	At                 time.Time
}

// SessionRepository provides access to study sessions and their progress.
type SessionRepository interface {
	// CreateIfAbsent inserts the session together with a fresh progress row.
	// If a session for the same reader and code already exists (including one
	// created by a concurrent caller) that row is returned with created=false.
	CreateIfAbsent(ctx context.Context, session *entities.StudySession) (existing *entities.StudySession, created bool, err error)
	// GetByID loads a session with its progress. Returns ErrSessionNotFound.
	GetByID(ctx context.Context, id uint) (*entities.StudySession, error)
	// GetByReaderAndCode loads a session with its progress. Returns ErrSessionNotFound.
	GetByReaderAndCode(ctx context.Context, readerID uint, sessionCode string) (*entities.StudySession, error)
	// ListByReader returns a reader's sessions with progress, ordered by code.
	ListByReader(ctx context.Context, readerID uint) ([]entities.StudySession, error)
	// ListAll returns every session with progress.
	ListAll(ctx context.Context) ([]entities.StudySession, error)
	// CountByReader returns how many sessions a reader has.
	CountByReader(ctx context.Context, readerID uint) (int64, error)
	// Count returns the total number of sessions.
	Count(ctx context.Context) (int64, error)

	// SetCaseOrders writes both orders only if none are stored yet.
	// Returns false when another writer got there first.
	SetCaseOrders(ctx context.Context, id uint, orderA, orderB []string) (bool, error)
	// MarkEntered moves pending to in_progress, stamps started_at once and
	// last_accessed_at always. Returns true if the status changed.
	MarkEntered(ctx context.Context, id uint, at time.Time) (bool, error)
	// Touch stamps last_accessed_at.
	Touch(ctx context.Context, id uint, at time.Time) error
	// MarkCompleted sets status completed and stamps completed_at once.
	// Returns true if this call performed the transition.
	MarkCompleted(ctx context.Context, id uint, at time.Time) (bool, error)
	// Advance moves the progress pointer and records the result in one
	// transaction. Returns ErrStaleProgress if the pointer moved, or
	// ErrDuplicateKey if a result for the case already exists.
	Advance(ctx context.Context, params *AdvanceParams) error

	// Reset removes results and progress, clears case orders and replaces the
	// design snapshot with the one carried by fresh.
	Reset(ctx context.Context, id uint, fresh *entities.StudySession) error
	// Delete removes a session and everything recorded under it.
	Delete(ctx context.Context, id uint) error
}
