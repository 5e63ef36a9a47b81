// Package backup writes compressed snapshots of the study database and keeps
// a bounded number of them.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

const (
	metadataVersion  = 1
	metadataFileName = "metadata.json"
	archiveExt       = ".tar.gz"
	idPrefix         = "readerstudy-backup-"
)

// Source produces a consistent copy of the data to back up.
type Source interface {
	// Name identifies the source inside the archive.
	Name() string
	// Validate checks that the source can be snapshotted.
	Validate() error
	// Snapshot writes a copy into dir and returns its path.
	Snapshot(ctx context.Context, dir string) (string, error)
}

// Target stores archives and their metadata.
type Target interface {
	Name() string
	Store(ctx context.Context, archivePath string, metadata *Metadata) error
	List(ctx context.Context) ([]Metadata, error)
	Delete(ctx context.Context, id string) error
}

// Metadata describes one stored archive.
type Metadata struct {
	Version      int       `json:"version"`
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	AppVersion   string    `json:"app_version"`
	Size         int64     `json:"size"`          // archive size
	OriginalSize int64     `json:"original_size"` // snapshot size before compression
	Checksum     string    `json:"checksum"`      // sha256 of the snapshot
}

// FileName returns the archive file name for m.
func (m *Metadata) FileName() string {
	return m.ID + archiveExt
}

// Manager runs backups from one source into one target.
type Manager struct {
	settings   *conf.BackupSettings
	source     Source
	target     Target
	appVersion string
	log        logger.Logger

	mu  sync.Mutex // serializes runs
	now func() time.Time
}

// NewManager creates a Manager. The source is validated up front.
func NewManager(settings *conf.BackupSettings, source Source, target Target, appVersion string, log logger.Logger) (*Manager, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global().Module("backup")
	}
	return &Manager{
		settings:   settings,
		source:     source,
		target:     target,
		appVersion: appVersion,
		log:        log,
		now:        time.Now,
	}, nil
}

// Run takes a snapshot, archives it, stores it in the target and prunes
// archives beyond the configured retention.
func (m *Manager) Run(ctx context.Context) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.settings.Timeout)
		defer cancel()
	}

	start := m.now()
	tempDir, err := os.MkdirTemp("", "readerstudy-backup-*")
	if err != nil {
		return nil, ioError("failed to create temporary directory", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	snapshot, err := m.source.Snapshot(ctx, tempDir)
	if err != nil {
		return nil, err
	}

	ts := start.UTC()
	metadata := &Metadata{
		Version:    metadataVersion,
		ID:         idPrefix + ts.Format("20060102-150405") + "-" + uuid.NewString()[:8],
		Timestamp:  ts,
		Source:     m.source.Name(),
		AppVersion: m.appVersion,
	}

	archivePath := filepath.Join(tempDir, metadata.FileName())
	if err := writeArchive(archivePath, snapshot, metadata); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Context("operation", "backup").
			Build()
	}

	if err := m.target.Store(ctx, archivePath, metadata); err != nil {
		return nil, err
	}

	m.log.Info("Backup stored",
		logger.String("id", metadata.ID),
		logger.String("target", m.target.Name()),
		logger.Int64("size", metadata.Size),
		logger.Duration("duration", m.now().Sub(start)))

	if _, err := m.prune(ctx); err != nil {
		// Retention catches up on the next run
		m.log.Warn("Failed to prune old backups", logger.Error(err))
	}

	return metadata, nil
}

// List returns stored archives, newest first.
func (m *Manager) List(ctx context.Context) ([]Metadata, error) {
	return m.target.List(ctx)
}

// Prune deletes archives beyond the configured retention and returns how
// many were removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prune(ctx)
}

func (m *Manager) prune(ctx context.Context) (int, error) {
	keep := max(m.settings.Keep, 1)

	stored, err := m.target.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(stored) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for i := keep; i < len(stored); i++ {
		if err := m.target.Delete(ctx, stored[i].ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		m.log.Debug("Pruned backup", logger.String("id", stored[i].ID))
	}

	return removed, errors.Join(errs...)
}

// writeArchive writes a gzip-compressed tar holding the metadata and the
// snapshot. Size, OriginalSize and Checksum are filled in on metadata.
func writeArchive(archivePath, snapshotPath string, metadata *Metadata) error {
	src, err := os.Open(snapshotPath)
	if err != nil {
		return ioError("failed to open snapshot", err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return ioError("failed to stat snapshot", err)
	}

	// Checksum the snapshot first so metadata.json inside the archive is complete
	hash := sha256.New()
	if _, err := io.Copy(hash, src); err != nil {
		return ioError("failed to checksum snapshot", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return ioError("failed to rewind snapshot", err)
	}
	metadata.OriginalSize = info.Size()
	metadata.Checksum = hex.EncodeToString(hash.Sum(nil))

	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return ioError("failed to create archive", err)
	}
	defer func() { _ = out.Close() }()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	metaBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return ioError("failed to encode metadata", err)
	}
	if err := writeTarEntry(tw, metadataFileName, metadata.Timestamp, int64(len(metaBytes)), bytes.NewReader(metaBytes)); err != nil {
		return err
	}
	if err := writeTarEntry(tw, metadata.Source+".db", metadata.Timestamp, info.Size(), src); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return ioError("failed to close tar writer", err)
	}
	if err := gz.Close(); err != nil {
		return ioError("failed to close gzip writer", err)
	}
	if err := out.Sync(); err != nil {
		return ioError("failed to sync archive", err)
	}

	stat, err := out.Stat()
	if err != nil {
		return ioError("failed to stat archive", err)
	}
	metadata.Size = stat.Size()
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, modTime time.Time, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    size,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return ioError(fmt.Sprintf("failed to write %s header", name), err)
	}
	if _, err := io.Copy(tw, r); err != nil {
		return ioError(fmt.Sprintf("failed to write %s", name), err)
	}
	return nil
}

func ioError(msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("backup").
		Category(errors.CategoryFileIO).
		Build()
}
