package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// ConfigRepository manages the singleton study configuration row.
type ConfigRepository interface {
	// GetOrCreate returns the stored config, inserting seed if none exists.
	GetOrCreate(ctx context.Context, seed *entities.StudyConfig) (*entities.StudyConfig, error)
	// Get returns ErrConfigNotFound before GetOrCreate has run.
	Get(ctx context.Context) (*entities.StudyConfig, error)
	// Update applies column updates to the config row.
	Update(ctx context.Context, updates map[string]any) error
	// Lock sets is_locked if it is not set yet. Returns true if this call locked it.
	Lock(ctx context.Context, lockedBy *uint, at time.Time) (bool, error)
}
