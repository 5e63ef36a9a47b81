package logger

import (
	"fmt"
	"os"
	"sync"
)

const logFilePermissions = 0o600

// reopenableFile is an append-only log file that can be reopened after an
// external tool (logrotate) has moved it away.
type reopenableFile struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func openReopenableFile(path string) (*reopenableFile, error) {
	f := &reopenableFile{path: path}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *reopenableFile) open() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", f.path, err)
	}
	f.file = file
	return nil
}

func (f *reopenableFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return 0, os.ErrClosed
	}
	return f.file.Write(p)
}

// Reopen closes the current handle and opens the path again.
func (f *reopenableFile) Reopen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		_ = f.file.Close()
	}
	return f.open()
}

func (f *reopenableFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *reopenableFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
