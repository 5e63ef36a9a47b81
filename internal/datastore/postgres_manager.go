package datastore

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tphakala/readerstudy/internal/errors"
)

// PostgresManager handles a PostgreSQL connection.
type PostgresManager struct {
	db       *gorm.DB
	location string
}

// NewPostgresManager connects using a libpq-style DSN or postgres:// URL.
func NewPostgresManager(dsn string, cfg Config) (*PostgresManager, error) {
	if dsn == "" {
		return nil, errors.Newf("postgres dsn is required").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), gormConfig(cfg))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open PostgreSQL database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresManager{
		db:       db,
		location: postgresLocation(dsn),
	}, nil
}

// postgresLocation strips credentials from a URL-form DSN for display.
func postgresLocation(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Host + u.Path
}

// Initialize creates the schema.
func (m *PostgresManager) Initialize() error {
	return migrate(m.db, m.Dialect())
}

// DB returns the underlying GORM database.
func (m *PostgresManager) DB() *gorm.DB {
	return m.db
}

// Dialect returns "postgres".
func (m *PostgresManager) Dialect() string {
	return "postgres"
}

// Path returns host/database without credentials.
func (m *PostgresManager) Path() string {
	return m.location
}

// Close closes the database connection.
func (m *PostgresManager) Close() error {
	return closeDB(m.db)
}
