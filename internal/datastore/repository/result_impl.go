package repository

import (
	"context"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"gorm.io/gorm"
)

// resultRepository implements ResultRepository.
type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

// orderedMarks preloads lesion marks in marking order.
func orderedMarks(db *gorm.DB) *gorm.DB {
	return db.Order("mark_order ASC")
}

// GetBySessionAndCase retrieves the result for a case.
func (r *resultRepository) GetBySessionAndCase(ctx context.Context, sessionID uint, caseID string) (*entities.StudyResult, error) {
	var result entities.StudyResult
	err := r.db.WithContext(ctx).
		Preload("LesionMarks", orderedMarks).
		Where("session_id = ? AND case_id = ?", sessionID, caseID).
		First(&result).Error
	if err != nil {
		return nil, notFound(err, ErrResultNotFound)
	}
	return &result, nil
}

// ListBySession returns results in submission order.
func (r *resultRepository) ListBySession(ctx context.Context, sessionID uint) ([]entities.StudyResult, error) {
	var results []entities.StudyResult
	err := r.db.WithContext(ctx).
		Preload("LesionMarks", orderedMarks).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&results).Error
	return results, err
}

// CountBySession returns the number of results for a session.
func (r *resultRepository) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.StudyResult{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
