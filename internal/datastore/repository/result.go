package repository

import (
	"context"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// ResultRepository provides read access to study results. Results are
// written only through SessionRepository.Advance.
type ResultRepository interface {
	// GetBySessionAndCase returns ErrResultNotFound if the case has no result.
	GetBySessionAndCase(ctx context.Context, sessionID uint, caseID string) (*entities.StudyResult, error)
	// ListBySession returns results in submission order with lesion marks.
	ListBySession(ctx context.Context, sessionID uint) ([]entities.StudyResult, error)
	// CountBySession returns the number of results recorded for a session.
	CountBySession(ctx context.Context, sessionID uint) (int64, error)
}
