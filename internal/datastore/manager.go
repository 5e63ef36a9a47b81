// Package datastore opens the study database and owns its schema.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Dialect returns the backend name: sqlite, mysql or postgres.
	Dialect() string
	// Path returns the database location for display (never includes credentials).
	Path() string
	// Close closes the database connection.
	Close() error
}

// Config holds the settings shared by all managers.
type Config struct {
	// Log receives GORM traces; nil disables SQL logging.
	Log logger.Logger
	// SlowQueryThreshold marks queries logged at WARN. Zero disables.
	SlowQueryThreshold time.Duration
}

// NewManager opens the backend selected by settings.Type.
func NewManager(settings *conf.DatabaseSettings, cfg Config) (Manager, error) {
	if cfg.SlowQueryThreshold == 0 && settings.SlowQueryMs > 0 {
		cfg.SlowQueryThreshold = time.Duration(settings.SlowQueryMs) * time.Millisecond
	}

	switch settings.Type {
	case "", "sqlite":
		return NewSQLiteManager(settings.SQLite.Path, cfg)
	case "mysql":
		return NewMySQLManager(&settings.MySQL, cfg)
	case "postgres":
		return NewPostgresManager(settings.Postgres.DSN, cfg)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// gormConfig returns the GORM options shared by every backend. Errors are
// translated so unique violations surface as gorm.ErrDuplicatedKey.
func gormConfig(cfg Config) *gorm.Config {
	gc := &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	if cfg.Log != nil {
		gc.Logger = logger.NewGormLoggerAdapter(cfg.Log, cfg.SlowQueryThreshold)
	}
	return gc
}

// models lists every entity managed by AutoMigrate, parents first.
func models() []any {
	return []any{
		&entities.Reader{},
		&entities.StudyConfig{},
		&entities.StudySession{},
		&entities.SessionProgress{},
		&entities.StudyResult{},
		&entities.LesionMark{},
		&entities.AuditLog{},
	}
}

// migrate runs AutoMigrate for all entities.
func migrate(db *gorm.DB, dialect string) error {
	if err := db.AutoMigrate(models()...); err != nil {
		return errors.New(fmt.Errorf("failed to migrate %s schema: %w", dialect, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dialect", dialect).
			Build()
	}
	return nil
}

// closeDB closes the connection pool behind db.
func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
