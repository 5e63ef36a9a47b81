package repository

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"gorm.io/gorm"
)

// readerRepository implements ReaderRepository.
type readerRepository struct {
	db *gorm.DB
}

// NewReaderRepository creates a new ReaderRepository.
func NewReaderRepository(db *gorm.DB) ReaderRepository {
	return &readerRepository{db: db}
}

// Create inserts a reader.
func (r *readerRepository) Create(ctx context.Context, reader *entities.Reader) error {
	if reader == nil || reader.ReaderCode == "" {
		return ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Create(reader).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// GetByID retrieves a reader by primary key.
func (r *readerRepository) GetByID(ctx context.Context, id uint) (*entities.Reader, error) {
	var reader entities.Reader
	if err := r.db.WithContext(ctx).First(&reader, id).Error; err != nil {
		return nil, notFound(err, ErrReaderNotFound)
	}
	return &reader, nil
}

// GetByCode retrieves a reader by reader code.
func (r *readerRepository) GetByCode(ctx context.Context, code string) (*entities.Reader, error) {
	var reader entities.Reader
	err := r.db.WithContext(ctx).
		Where("reader_code = ?", code).
		First(&reader).Error
	if err != nil {
		return nil, notFound(err, ErrReaderNotFound)
	}
	return &reader, nil
}

// List returns readers ordered by reader code.
func (r *readerRepository) List(ctx context.Context, filter ReaderFilter) ([]entities.Reader, error) {
	query := r.db.WithContext(ctx).Model(&entities.Reader{})
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var readers []entities.Reader
	if err := query.Order("reader_code ASC").Find(&readers).Error; err != nil {
		return nil, err
	}
	return readers, nil
}

// Update applies column updates to a reader.
func (r *readerRepository) Update(ctx context.Context, id uint, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entities.Reader{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return ErrDuplicateKey
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReaderNotFound
	}
	return nil
}

// TouchLastLogin stamps last_login_at.
func (r *readerRepository) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entities.Reader{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}

// Count returns the number of readers with the given role.
func (r *readerRepository) Count(ctx context.Context, role entities.ReaderRole) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&entities.Reader{})
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
