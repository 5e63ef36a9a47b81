package repository

import (
	"context"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"gorm.io/gorm"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// auditRepository implements AuditRepository.
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Append inserts one audit entry.
func (r *auditRepository) Append(ctx context.Context, entry *entities.AuditLog) error {
	if entry == nil || entry.Action == "" || entry.EventID == "" {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// List returns audit entries newest first.
func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]entities.AuditLog, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&entities.AuditLog{}).
		Scopes(filter.apply).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}

	var entries []entities.AuditLog
	err := r.db.WithContext(ctx).
		Scopes(filter.apply).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(max(filter.Offset, 0)).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// apply adds the filter conditions to a query.
func (f AuditFilter) apply(db *gorm.DB) *gorm.DB {
	if f.ReaderID != nil {
		db = db.Where("reader_id = ?", *f.ReaderID)
	}
	if f.Action != "" {
		db = db.Where("action = ?", f.Action)
	}
	if !f.Since.IsZero() {
		db = db.Where("created_at >= ?", f.Since)
	}
	return db
}
