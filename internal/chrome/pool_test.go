package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	u "printserver/internal/utils"
)

func testConfig(poolSize int) u.Config {
	cfg := u.DefaultConfig()
	cfg.PDF.ChromePoolSize = poolSize
	cfg.PDF.UserDataDir = filepath.Join(os.TempDir(), "printserver-chrome-tests")
	cfg.PDF.TimeoutSecs = 1
	return cfg
}

// startedPool builds a pool whose browser is considered running, so tabs can
// be leased without launching Chrome.
func startedPool(size int) *Pool {
	p := &Pool{cfg: testConfig(size), sem: make(chan struct{}, size), browserCtx: context.Background(), started: true, generation: 1}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	return p
}

func TestCreateProfileDir_DefaultAndCustomBase(t *testing.T) {
	cfg := testConfig(1)
	cfg.PDF.UserDataDir = ""
	dir1, err := createProfileDir(cfg)
	require.NoError(t, err)
	defer os.RemoveAll(dir1)
	assert.DirExists(t, dir1)

	customBase := filepath.Join(t.TempDir(), "profiles")
	cfg.PDF.UserDataDir = customBase
	dir2, err := createProfileDir(cfg)
	require.NoError(t, err)
	assert.Equal(t, customBase, filepath.Dir(dir2))
}

func TestCreateProfileDir_InvalidBase(t *testing.T) {
	cfg := testConfig(1)
	cfg.PDF.UserDataDir = "/dev/null/x"
	_, err := createProfileDir(cfg)
	assert.Error(t, err)
}

func TestAllocatorOptions(t *testing.T) {
	cfg := testConfig(1)
	base := len(AllocatorOptions(cfg, "/tmp/p"))

	cfg.PDF.ChromePath = "/usr/bin/chromium"
	cfg.PDF.ChromeNoSandbox = true
	assert.Equal(t, base+1, len(AllocatorOptions(cfg, "/tmp/p")))

	cfg.PDF.ChromeNoSandbox = false
	assert.Equal(t, base, len(AllocatorOptions(cfg, "/tmp/p")))
}

func TestPoolAcquireReleaseAndClose(t *testing.T) {
	p := startedPool(1)

	tab, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tab)
	assert.Len(t, p.sem, 0)

	p.Release(tab, nil)
	assert.Len(t, p.sem, 1)

	p.Close()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, errPoolClosed)
}

func TestPoolAcquireContextCanceled(t *testing.T) {
	p := &Pool{sem: make(chan struct{}, 1), browserCtx: context.Background(), started: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolAcquireTimesOutWhenNoCapacity(t *testing.T) {
	p := startedPool(1)
	tab, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(tab, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolStatsAndClose(t *testing.T) {
	p := startedPool(2)
	p.profileDir = t.TempDir()

	st := p.Stats(1)
	assert.True(t, st.Enabled)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, 2, st.Idle)
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 1, st.TimeoutSecs)

	tab, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats(1).InUse)
	p.Release(tab, nil)

	p.Close()
	p.Close()
	assert.False(t, p.Stats(1).Enabled)
	assert.NoDirExists(t, p.profileDir)
}

func TestPoolRestartClosed(t *testing.T) {
	p := &Pool{closed: true}
	assert.ErrorIs(t, p.Restart(), errPoolClosed)
}

func TestPoolRestart_Success(t *testing.T) {
	cfg := testConfig(1)
	old := t.TempDir()
	p := &Pool{cfg: cfg, sem: make(chan struct{}, 1), profileDir: old}
	p.sem <- struct{}{}

	require.NoError(t, p.Restart())
	assert.NotEmpty(t, p.profileDir)
	assert.NotEqual(t, old, p.profileDir)
	assert.NoDirExists(t, old)
	assert.Equal(t, 1, p.Stats(1).Restarts)
	assert.False(t, p.Stats(1).LastRestart.IsZero())
	p.Close()
}

func TestNewPool_Disabled(t *testing.T) {
	_, err := NewPool(testConfig(0))
	assert.ErrorIs(t, err, errPoolDisabled)
}

func TestNewPool_BrowserThatCannotStart(t *testing.T) {
	cfg := testConfig(1)
	cfg.PDF.ChromePath = "/definitely/missing/chrome"

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
	assert.Len(t, p.sem, 1, "slot must be returned when launch fails")
}

func TestIsSessionInterrupted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "wrapped deadline", err: fmt.Errorf("acquire chrome tab: %w", context.DeadlineExceeded), want: false},
		{name: "target closed", err: errors.New("target closed"), want: true},
		{name: "websocket", err: errors.New("websocket: close 1006"), want: true},
		{name: "normal error", err: errors.New("unknown paper size"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSessionInterrupted(tc.err))
		})
	}
}

func TestPoolTabsCarryGeneration(t *testing.T) {
	p := startedPool(1)

	tab, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tab.Generation)
	assert.Equal(t, uint64(1), p.Generation())
	p.Release(tab, nil)
}

func TestPoolRestartGeneration(t *testing.T) {
	cfg := testConfig(1)
	p := &Pool{cfg: cfg, sem: make(chan struct{}, 1)}
	p.sem <- struct{}{}
	require.NoError(t, p.initBrowser())
	defer p.Close()
	first := p.Generation()

	restarted, err := p.RestartGeneration(first)
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.Equal(t, first+1, p.Generation())

	// A second caller that saw the same dead browser must not tear down
	// the replacement.
	restarted, err = p.RestartGeneration(first)
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, first+1, p.Generation())
	assert.Equal(t, 1, p.Stats(1).Restarts)
}

func TestPoolRestartGeneration_Closed(t *testing.T) {
	p := &Pool{closed: true, generation: 3}
	_, err := p.RestartGeneration(3)
	assert.ErrorIs(t, err, errPoolClosed)
}
