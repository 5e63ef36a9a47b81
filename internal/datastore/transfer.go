package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

const (
	// DefaultTransferBatchSize is used when no batch size is given.
	DefaultTransferBatchSize = 500
	maxTransferBatchSize     = 10000
)

// Transfer copies every study table from one database to another, keeping
// primary keys so sessions, results and audit entries stay linked. Rows
// that already exist in the target are skipped, so a transfer can be rerun.
type Transfer struct {
	source    Manager
	target    Manager
	batchSize int
	log       logger.Logger
}

// TableStats reports the outcome of copying one table.
type TableStats struct {
	Name     string
	Source   int64
	Copied   int64
	Skipped  int64
	Duration time.Duration
}

// TransferStats summarizes a transfer run.
type TransferStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// CountCheck compares the row count of one table in source and target.
type CountCheck struct {
	Name   string
	Source int64
	Target int64
}

// Match reports whether both sides hold the same number of rows.
func (c CountCheck) Match() bool {
	return c.Source == c.Target
}

// NewTransfer prepares a copy from source to target. A batch size of zero
// selects DefaultTransferBatchSize.
func NewTransfer(source, target Manager, batchSize int, log logger.Logger) (*Transfer, error) {
	if batchSize == 0 {
		batchSize = DefaultTransferBatchSize
	}
	if batchSize < 1 || batchSize > maxTransferBatchSize {
		return nil, errors.Newf("batch size must be between 1 and %d", maxTransferBatchSize).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("batch_size", batchSize).
			Build()
	}
	if source.Dialect() == target.Dialect() && source.Path() == target.Path() {
		return nil, errors.Newf("source and target are the same database").
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("path", source.Path()).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("datastore")
	}

	return &Transfer{source: source, target: target, batchSize: batchSize, log: log}, nil
}

// tableCopier copies one table in batches.
type tableCopier struct {
	name string
	copy func(ctx context.Context, t *Transfer, name string) (TableStats, error)
}

// copiers lists tables parents first so foreign keys resolve during insert.
func copiers() []tableCopier {
	return []tableCopier{
		{entities.Reader{}.TableName(), copyTable[entities.Reader]},
		{entities.StudyConfig{}.TableName(), copyTable[entities.StudyConfig]},
		{entities.StudySession{}.TableName(), copyTable[entities.StudySession]},
		{entities.SessionProgress{}.TableName(), copyTable[entities.SessionProgress]},
		{entities.StudyResult{}.TableName(), copyTable[entities.StudyResult]},
		{entities.LesionMark{}.TableName(), copyTable[entities.LesionMark]},
		{entities.AuditLog{}.TableName(), copyTable[entities.AuditLog]},
	}
}

// Run creates the target schema and copies every table. With clean set the
// target tables are emptied first.
func (t *Transfer) Run(ctx context.Context, clean bool) (*TransferStats, error) {
	stats := &TransferStats{StartTime: time.Now()}

	if err := t.target.Initialize(); err != nil {
		return nil, err
	}
	if clean {
		if err := t.cleanTarget(ctx); err != nil {
			return nil, err
		}
	}

	for _, c := range copiers() {
		if err := ctx.Err(); err != nil {
			return stats, errors.New(err).
				Component("datastore").
				Category(errors.CategoryCancellation).
				Build()
		}
		tableStats, err := c.copy(ctx, t, c.name)
		if err != nil {
			return stats, errors.New(fmt.Errorf("failed to copy %s: %w", c.name, err)).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("table", c.name).
				Build()
		}
		stats.Tables = append(stats.Tables, tableStats)
	}

	if t.target.Dialect() == "postgres" {
		if err := t.resetSequences(ctx); err != nil {
			return stats, err
		}
	}

	stats.EndTime = time.Now()
	t.log.Info("Database transfer completed",
		logger.String("source", t.source.Dialect()),
		logger.String("target", t.target.Dialect()),
		logger.Duration("duration", stats.EndTime.Sub(stats.StartTime)))
	return stats, nil
}

// Verify compares row counts of every table.
func (t *Transfer) Verify(ctx context.Context) ([]CountCheck, error) {
	all := copiers()
	checks := make([]CountCheck, 0, len(all))
	mismatch := false

	for _, c := range all {
		check := CountCheck{Name: c.name}
		if err := t.source.DB().WithContext(ctx).Table(c.name).Count(&check.Source).Error; err != nil {
			return nil, countError("source", c.name, err)
		}
		if err := t.target.DB().WithContext(ctx).Table(c.name).Count(&check.Target).Error; err != nil {
			return nil, countError("target", c.name, err)
		}
		if !check.Match() {
			mismatch = true
		}
		checks = append(checks, check)
	}

	if mismatch {
		return checks, errors.Newf("record counts do not match").
			Component("datastore").
			Category(errors.CategoryConflict).
			Build()
	}
	return checks, nil
}

// copyTable copies all rows of T in primary key batches.
func copyTable[T any](ctx context.Context, t *Transfer, name string) (TableStats, error) {
	start := time.Now()
	stats := TableStats{Name: name}

	src := t.source.DB().WithContext(ctx)
	if err := src.Model(new(T)).Count(&stats.Source).Error; err != nil {
		return stats, err
	}
	if stats.Source == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	dst := t.target.DB().WithContext(ctx)
	var batch []T
	err := src.Model(new(T)).FindInBatches(&batch, t.batchSize, func(_ *gorm.DB, n int) error {
		result := dst.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&batch)
		if result.Error != nil {
			return result.Error
		}
		stats.Copied += result.RowsAffected
		stats.Skipped += int64(len(batch)) - result.RowsAffected

		t.log.Debug("Copied batch",
			logger.String("table", name),
			logger.Int("batch", n),
			logger.Int64("copied", stats.Copied),
			logger.Int64("total", stats.Source))
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// cleanTarget deletes all rows from the target, children first.
func (t *Transfer) cleanTarget(ctx context.Context) error {
	all := copiers()
	db := t.target.DB().WithContext(ctx)
	for i := len(all) - 1; i >= 0; i-- {
		name := all[i].name
		if err := db.Exec("DELETE FROM " + db.Statement.Quote(name)).Error; err != nil {
			return errors.New(fmt.Errorf("failed to clean %s: %w", name, err)).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("table", name).
				Build()
		}
	}
	return nil
}

// resetSequences advances PostgreSQL id sequences past the copied keys.
func (t *Transfer) resetSequences(ctx context.Context) error {
	db := t.target.DB().WithContext(ctx)
	for _, c := range copiers() {
		stmt := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
			c.name)
		if err := db.Exec(stmt).Error; err != nil {
			return errors.New(fmt.Errorf("failed to reset sequence for %s: %w", c.name, err)).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("table", c.name).
				Build()
		}
	}
	return nil
}

func countError(side, table string, err error) error {
	return errors.New(fmt.Errorf("failed to count %s %s: %w", side, table, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("table", table).
		Build()
}
