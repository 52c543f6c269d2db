package spool

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printserver/internal/domain"
)

func TestCreateWritesUniqueFile(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}

	path, err := m.Create([]byte("%PDF-1.4 test"))
	require.NoError(t, err)

	assert.Equal(t, m.Dir, filepath.Dir(path))
	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "temp_print_"), name)
	assert.True(t, strings.HasSuffix(name, ".pdf"), name)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test", string(got))

	require.NoError(t, m.Remove(path))
	assert.NoFileExists(t, path)
}

func TestZeroValueUsesOSTempDir(t *testing.T) {
	var m Manager
	path, err := m.Create([]byte("x"))
	require.NoError(t, err)
	defer os.Remove(path)
	assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(path))
}

func TestRemoveMissingFileFails(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}
	err := m.Remove(filepath.Join(m.Dir, "temp_print_missing.pdf"))
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateInMissingDirFails(t *testing.T) {
	m := &Manager{Dir: filepath.Join(t.TempDir(), "does", "not", "exist")}
	_, err := m.Create([]byte("x"))
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestNewManagerCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	m, err := NewManager(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, m.Dir)

	_, err = NewManager("/dev/null/spool")
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestConcurrentCreateNeverCollides(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}
	const n = 64

	var (
		mu    sync.Mutex
		paths = make(map[string]struct{}, n)
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.Create([]byte("doc"))
			assert.NoError(t, err)
			mu.Lock()
			paths[p] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, paths, n)
}

func TestWithFileRemovesOnSuccessAndFailure(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}

	var seen string
	err := m.WithFile([]byte("ok"), func(path string) error {
		seen = path
		assert.FileExists(t, path)
		return nil
	})
	require.NoError(t, err)
	assert.NoFileExists(t, seen)

	boom := errors.New("spooler rejected job")
	err = m.WithFile([]byte("fail"), func(path string) error {
		seen = path
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, seen)
}

func TestWithFileRemovesOnPanic(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}
	var seen string
	assert.Panics(t, func() {
		_ = m.WithFile([]byte("p"), func(path string) error {
			seen = path
			panic("dispatcher crashed")
		})
	})
	assert.NoFileExists(t, seen)
}

func TestWithFileReportsCleanupFailure(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}
	err := m.WithFile([]byte("x"), func(path string) error {
		return os.Remove(path)
	})
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Contains(t, err.Error(), "cleanup temp_print_")
}
