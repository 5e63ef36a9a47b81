package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/readerstudy/internal/errors"
)

const (
	dirPermissions  = 0o700 // rwx------ (owner only)
	filePermissions = 0o600 // rw------- (owner only)
	metadataExt     = ".json"
)

// LocalTarget keeps archives in a directory, each next to a JSON metadata file.
type LocalTarget struct {
	path string
}

// NewLocalTarget creates the backup directory if needed.
func NewLocalTarget(path string) (*LocalTarget, error) {
	if path == "" {
		return nil, errors.Newf("backup directory is not configured").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, errors.Newf("backup directory must not contain directory traversal sequences").
			Component("backup").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, ioError("failed to resolve backup directory", err)
	}
	if err := os.MkdirAll(absPath, dirPermissions); err != nil {
		return nil, ioError("failed to create backup directory", err)
	}

	return &LocalTarget{path: absPath}, nil
}

// Name returns the name of this target
func (t *LocalTarget) Name() string {
	return "local"
}

// Path returns the absolute backup directory.
func (t *LocalTarget) Path() string {
	return t.path
}

// Store copies the archive into the directory and writes its metadata.
func (t *LocalTarget) Store(ctx context.Context, archivePath string, metadata *Metadata) error {
	if err := ctx.Err(); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryCancellation).
			Build()
	}

	src, err := os.Open(archivePath)
	if err != nil {
		return ioError("failed to open archive", err)
	}
	defer func() { _ = src.Close() }()

	dst := filepath.Join(t.path, metadata.FileName())
	if err := atomicWriteFile(dst, func(f *os.File) error {
		_, err := io.Copy(f, src)
		return err
	}); err != nil {
		return err
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return ioError("failed to encode metadata", err)
	}
	// Metadata is written last; an archive without it is not listed
	return atomicWriteFile(filepath.Join(t.path, metadata.ID+metadataExt), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// List returns stored archives, newest first.
func (t *LocalTarget) List(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(t.path)
	if err != nil {
		return nil, ioError("failed to read backup directory", err)
	}

	var out []Metadata
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, idPrefix) || filepath.Ext(name) != metadataExt {
			continue
		}

		data, err := os.ReadFile(filepath.Join(t.path, name))
		if err != nil {
			return nil, ioError("failed to read backup metadata", err)
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			// Foreign or truncated files are skipped
			continue
		}
		out = append(out, m)
	}

	slices.SortFunc(out, func(a, b Metadata) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out, nil
}

// Delete removes an archive and its metadata.
func (t *LocalTarget) Delete(ctx context.Context, id string) error {
	if !strings.HasPrefix(id, idPrefix) || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return errors.Newf("invalid backup id %q", id).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}

	var errs []error
	for _, name := range []string{id + archiveExt, id + metadataExt} {
		if err := os.Remove(filepath.Join(t.path, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, ioError(fmt.Sprintf("failed to remove %s", name), err))
		}
	}
	return errors.Join(errs...)
}

// atomicWriteFile writes to a temporary file in the target directory and
// renames it into place.
func atomicWriteFile(targetPath string, write func(*os.File) error) error {
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), ".tmp-backup-*")
	if err != nil {
		return ioError("failed to create temporary file", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(filePermissions); err != nil {
		return ioError("failed to set file permissions", err)
	}
	if err := write(tempFile); err != nil {
		return ioError("failed to write file", err)
	}
	if err := tempFile.Sync(); err != nil {
		return ioError("failed to sync file", err)
	}
	if err := tempFile.Close(); err != nil {
		return ioError("failed to close temporary file", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return ioError("failed to rename temporary file", err)
	}

	success = true
	return nil
}
