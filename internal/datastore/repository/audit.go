package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// AuditFilter narrows audit log queries.
type AuditFilter struct {
	ReaderID *uint
	Action   string
	Since    time.Time
	Limit    int // defaults to 100, capped at 1000
	Offset   int
}

// AuditRepository is the append-only store for audit entries.
type AuditRepository interface {
	// Append inserts one entry. Entries are never updated or deleted.
	Append(ctx context.Context, entry *entities.AuditLog) error
	// List returns matching entries newest first and the total match count.
	List(ctx context.Context, filter AuditFilter) ([]entities.AuditLog, int64, error)
}
