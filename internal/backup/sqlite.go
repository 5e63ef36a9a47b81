package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/tphakala/readerstudy/internal/errors"
)

// SQLiteSource snapshots a live SQLite database with VACUUM INTO, which
// produces a consistent copy while readers keep submitting results.
type SQLiteSource struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteSource creates a source for the database at dbPath served by db.
func NewSQLiteSource(db *gorm.DB, dbPath string) *SQLiteSource {
	return &SQLiteSource{db: db, dbPath: dbPath}
}

// Name returns the name of this source
func (s *SQLiteSource) Name() string {
	return "sqlite"
}

// Validate checks that the database file exists and answers queries.
func (s *SQLiteSource) Validate() error {
	if s.dbPath == "" {
		return errors.Newf("sqlite path is not configured").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		return ioError("database file not accessible", err)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryDatabase).
			Build()
	}
	if err := sqlDB.Ping(); err != nil {
		return errors.New(fmt.Errorf("failed to ping database: %w", err)).
			Component("backup").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Snapshot writes a compacted copy of the database into dir.
func (s *SQLiteSource) Snapshot(ctx context.Context, dir string) (string, error) {
	dst := filepath.Join(dir, s.Name()+".db")

	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error; err != nil {
		return "", errors.New(fmt.Errorf("failed to snapshot database: %w", err)).
			Component("backup").
			Category(errors.CategoryDatabase).
			Priority(errors.PriorityHigh).
			Context("path", s.dbPath).
			Build()
	}
	return dst, nil
}
