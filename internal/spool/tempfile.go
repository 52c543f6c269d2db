// Package spool manages the short-lived files handed to the OS print spooler.
package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"printserver/internal/domain"
)

const (
	filePrefix = "temp_print_"
	fileSuffix = ".pdf"
)

// Manager creates and removes uniquely named print artifacts in Dir.
// The zero value writes to os.TempDir().
type Manager struct {
	Dir string
}

// NewManager returns a Manager rooted at dir, creating it when missing.
func NewManager(dir string) (*Manager, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.Wrap(domain.ErrIO, err)
		}
	}
	return &Manager{Dir: dir}, nil
}

func (m *Manager) dir() string {
	if m == nil || m.Dir == "" {
		return os.TempDir()
	}
	return m.Dir
}

// Create writes data to a new file and returns its path.
func (m *Manager) Create(data []byte) (string, error) {
	path := filepath.Join(m.dir(), filePrefix+uuid.NewString()+fileSuffix)

	// O_EXCL so a name collision surfaces as an error instead of clobbering another job.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", domain.Wrap(domain.ErrIO, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", domain.Wrap(domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", domain.Wrap(domain.ErrIO, err)
	}
	return path, nil
}

// Remove deletes the file at path. Removing a missing file is an error.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return domain.Wrap(domain.ErrIO, err)
	}
	return nil
}

// WithFile writes data to a new file, calls fn with its path and removes the
// file on every exit path, including a panic in fn.
func (m *Manager) WithFile(data []byte, fn func(path string) error) (err error) {
	path, err := m.Create(data)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := m.Remove(path); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup %s: %w", filepath.Base(path), rmErr))
		}
	}()
	return fn(path)
}
