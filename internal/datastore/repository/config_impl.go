package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"gorm.io/gorm"
)

// configRepository implements ConfigRepository.
type configRepository struct {
	db *gorm.DB
}

// NewConfigRepository creates a new ConfigRepository.
func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepository{db: db}
}

// GetOrCreate returns the singleton row, creating it from seed when missing.
func (r *configRepository) GetOrCreate(ctx context.Context, seed *entities.StudyConfig) (*entities.StudyConfig, error) {
	if seed == nil {
		return nil, ErrInvalidInput
	}

	cfg := *seed
	cfg.ID = entities.StudyConfigID
	err := r.db.WithContext(ctx).FirstOrCreate(&cfg, entities.StudyConfig{ID: entities.StudyConfigID}).Error
	if err != nil {
		// Another process may have seeded the row concurrently.
		existing, getErr := r.Get(ctx)
		if getErr != nil {
			return nil, err
		}
		return existing, nil
	}
	return &cfg, nil
}

// Get returns the singleton row.
func (r *configRepository) Get(ctx context.Context) (*entities.StudyConfig, error) {
	var cfg entities.StudyConfig
	if err := r.db.WithContext(ctx).First(&cfg, entities.StudyConfigID).Error; err != nil {
		return nil, notFound(err, ErrConfigNotFound)
	}
	return &cfg, nil
}

// Update applies column updates to the singleton row.
func (r *configRepository) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entities.StudyConfig{}).
		Where("id = ?", entities.StudyConfigID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// Lock sets is_locked once.
func (r *configRepository) Lock(ctx context.Context, lockedBy *uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.StudyConfig{}).
		Where("id = ? AND is_locked = ?", entities.StudyConfigID, false).
		Updates(map[string]any{
			"is_locked": true,
			"locked_at": at,
			"locked_by": lockedBy,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
