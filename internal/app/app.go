// Package app wires storage, telemetry and the study services from settings.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/backup"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability"
	"github.com/tphakala/readerstudy/internal/study"
)

// dashboardCacheTTL is how stale the admin dashboard may be.
const dashboardCacheTTL = 10 * time.Second

// App holds the wired services of one process.
type App struct {
	Settings *conf.Settings
	Log      logger.Logger
	DB       datastore.Manager
	Metrics  *observability.Metrics

	Readers  repository.ReaderRepository
	AuditLog repository.AuditRepository
	Audit    *audit.Recorder

	Config    *study.ConfigService
	Engine    *study.Engine
	ReaderSvc *study.ReaderService
	Tracker   *study.Tracker
	AuthSvc   *auth.Service
}

// Open connects the database and migrates the schema. The returned manager
// must be closed by the caller.
func Open(settings *conf.Settings, log logger.Logger) (datastore.Manager, error) {
	mgr, err := datastore.NewManager(&settings.Database, datastore.Config{Log: log.Module("datastore")})
	if err != nil {
		return nil, err
	}
	if err := mgr.Initialize(); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}

// New opens the database, seeds the study configuration and builds every
// service.
func New(ctx context.Context, settings *conf.Settings, log logger.Logger) (*App, error) {
	mgr, err := Open(settings, log)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, settings, log, mgr)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, settings *conf.Settings, log logger.Logger, mgr datastore.Manager) (*App, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	db := mgr.DB()
	if settings.Metrics.Enabled {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		if err := m.RegisterRuntimeCollectors(sqlDB, mgr.Dialect()); err != nil {
			return nil, err
		}
	}

	a := &App{
		Settings: settings,
		Log:      log,
		DB:       mgr,
		Metrics:  m,
		Readers:  repository.NewReaderRepository(db),
		AuditLog: repository.NewAuditRepository(db),
	}
	a.Audit = audit.NewRecorder(a.AuditLog, log.Module("audit"), m.Study)

	sessions := repository.NewSessionRepository(db)
	a.Config = study.NewConfigService(repository.NewConfigRepository(db), a.Audit, log.Module("config"))
	if _, err := a.Config.Bootstrap(ctx, &settings.Study); err != nil {
		return nil, err
	}

	a.Engine = study.NewEngine(&study.Options{
		Sessions: sessions,
		Results:  repository.NewResultRepository(db),
		Readers:  a.Readers,
		Config:   a.Config,
		Audit:    a.Audit,
		Metrics:  m.Study,
		Log:      log.Module("study"),
	})
	a.ReaderSvc = study.NewReaderService(a.Readers, sessions, a.Config, a.Audit)
	a.Tracker = study.NewTracker(sessions, a.Readers, a.Config, dashboardCacheTTL)

	tokens := auth.NewTokenService(settings.Security.JWTSecret, settings.Security.TokenTTL)
	a.AuthSvc = auth.NewService(a.Readers, tokens, a.Audit, log.Module("auth"))

	return a, nil
}

// Ping checks database connectivity.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.DB.Close()
}

// BackupManager builds the snapshot manager for the configured database.
// Only SQLite is supported; server databases are backed up with their own tools.
func (a *App) BackupManager(appVersion string) (*backup.Manager, error) {
	if a.DB.Dialect() != "sqlite" {
		return nil, errors.Newf("backups are not supported for %s databases", a.DB.Dialect()).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	target, err := backup.NewLocalTarget(a.Settings.Backup.Dir)
	if err != nil {
		return nil, err
	}
	source := backup.NewSQLiteSource(a.DB.DB(), a.DB.Path())

	return backup.NewManager(&a.Settings.Backup, source, target, appVersion, a.Log.Module("backup"))
}

// Run builds the application, calls fn and closes the database afterwards.
func Run(ctx context.Context, settings *conf.Settings, log logger.Logger, fn func(context.Context, *App) error) error {
	a, err := New(ctx, settings, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}
