package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// ReaderFilter narrows List results.
type ReaderFilter struct {
	Role       entities.ReaderRole // empty matches all roles
	ActiveOnly bool
}

// ReaderRepository provides access to readers.
type ReaderRepository interface {
	// Create inserts a reader. Returns ErrDuplicateKey if the reader code is taken.
	Create(ctx context.Context, reader *entities.Reader) error
	// GetByID returns ErrReaderNotFound if absent.
	GetByID(ctx context.Context, id uint) (*entities.Reader, error)
	// GetByCode returns ErrReaderNotFound if absent.
	GetByCode(ctx context.Context, code string) (*entities.Reader, error)
	// List returns readers ordered by reader code.
	List(ctx context.Context, filter ReaderFilter) ([]entities.Reader, error)
	// Update applies column updates to a reader.
	Update(ctx context.Context, id uint, updates map[string]any) error
	// TouchLastLogin stamps last_login_at.
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
	// Count returns the number of readers with the given role (empty = all).
	Count(ctx context.Context, role entities.ReaderRole) (int64, error)
}
