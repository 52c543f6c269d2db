// Package chrome keeps a shared headless browser and hands out isolated tabs.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	u "printserver/internal/utils"
)

var (
	errPoolDisabled = errors.New("chrome pool disabled (pdf.chrome_pool_size <= 0)")
	errPoolClosed   = errors.New("chrome pool closed")
)

// Tab is a browser tab leased from the pool. Ctx is a chromedp context.
// Generation identifies the browser process the tab was opened on.
type Tab struct {
	Ctx        context.Context
	Generation uint64
	cancel     context.CancelFunc
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Capacity     int       `json:"capacity"`
	Idle         int       `json:"idle"`
	InUse        int       `json:"in_use"`
	PoolSizeConf int       `json:"pool_size_conf"`
	ProfileDir   string    `json:"profile_dir"`
	TimeoutSecs  int       `json:"timeout_secs"`
	Restarts     int       `json:"restarts"`
	LastRestart  time.Time `json:"last_restart"`
}

// Pool bounds the number of concurrent tabs on one browser process.
type Pool struct {
	cfg u.Config
	sem chan struct{}

	mu            sync.Mutex
	started       bool
	closed        bool
	profileDir    string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	generation    uint64
	restarts      int
	lastRestart   time.Time
}

// NewPool prepares a pool of cfg.PDF.ChromePoolSize tabs. The browser
// process itself is launched on first Acquire.
func NewPool(cfg u.Config) (*Pool, error) {
	size := cfg.PDF.ChromePoolSize
	if size <= 0 {
		return nil, errPoolDisabled
	}

	p := &Pool{cfg: cfg, sem: make(chan struct{}, size)}
	if err := p.initBrowser(); err != nil {
		return nil, err
	}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	u.Info("Chrome pool ready", "size", size, "profile_dir", p.profileDir)
	return p, nil
}

// initBrowser must be called with mu held or before the pool is shared.
func (p *Pool) initBrowser() error {
	dir, err := createProfileDir(p.cfg)
	if err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(p.cfg, dir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p.profileDir = dir
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.started = false
	p.generation++
	return nil
}

// AllocatorOptions are the Chrome flags used for both pooled and one-shot sessions.
func AllocatorOptions(cfg u.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Software rendering keeps minimal hosts without a GPU stack working.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.PDF.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.PDF.ChromePath))
	}
	if cfg.PDF.ChromeNoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

func createProfileDir(cfg u.Config) (string, error) {
	base := cfg.PDF.UserDataDir
	if base == "" {
		base = os.TempDir()
	} else if err := os.MkdirAll(base, 0o700); err != nil {
		return "", fmt.Errorf("cannot create chrome profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "chromedata-*")
	if err != nil {
		return "", fmt.Errorf("cannot create chrome profile dir: %w", err)
	}
	return dir, nil
}

// ensureStarted launches the browser process on first use and returns its
// context and generation.
func (p *Pool) ensureStarted() (context.Context, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, 0, errPoolClosed
	}
	if p.started {
		return p.browserCtx, p.generation, nil
	}
	if p.browserCtx == nil {
		return nil, 0, errPoolClosed
	}
	if err := chromedp.Run(p.browserCtx); err != nil {
		return nil, 0, fmt.Errorf("launch chrome: %w", err)
	}
	p.started = true
	return p.browserCtx, p.generation, nil
}

// Acquire waits for a free slot and opens a new tab on the shared browser.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPoolClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.sem:
	}

	browserCtx, gen, err := p.ensureStarted()
	if err != nil {
		p.sem <- struct{}{}
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	return &Tab{Ctx: tabCtx, Generation: gen, cancel: cancel}, nil
}

// Release closes the tab and returns its slot. renderErr is the outcome of
// the work done in the tab and is only used for logging.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab != nil && tab.cancel != nil {
		tab.cancel()
	}
	if renderErr != nil && IsSessionInterrupted(renderErr) {
		u.Warn("Chrome tab released after interruption", "error", renderErr)
	}
	p.sem <- struct{}{}
}

// Generation identifies the current browser process.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Restart tears down the browser and starts over with a fresh profile.
// Tabs leased from the old browser fail with a canceled context.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartLocked()
}

// RestartGeneration restarts only if gen is still the current browser. A
// caller holding a tab from a browser that was already replaced gets
// (false, nil) and can retry on the new one.
func (p *Pool) RestartGeneration(gen uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, errPoolClosed
	}
	if gen != p.generation {
		return false, nil
	}
	if err := p.restartLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pool) restartLocked() error {
	if p.closed {
		return errPoolClosed
	}
	p.shutdownLocked()
	if err := p.initBrowser(); err != nil {
		return err
	}
	p.restarts++
	p.lastRestart = time.Now()
	u.Warn("Chrome pool restarted", "restarts", p.restarts, "generation", p.generation, "profile_dir", p.profileDir)
	return nil
}

// Close shuts the browser down and removes its profile. Safe to call twice.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.shutdownLocked()
}

func (p *Pool) shutdownLocked() {
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
	}
	p.browserCtx = nil
	p.started = false
}

// Stats reports capacity and usage.
func (p *Pool) Stats(timeoutSecs int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := cap(p.sem)
	idle := len(p.sem)
	return Stats{
		Enabled:      !p.closed && capacity > 0,
		Capacity:     capacity,
		Idle:         idle,
		InUse:        capacity - idle,
		PoolSizeConf: p.cfg.PDF.ChromePoolSize,
		ProfileDir:   p.profileDir,
		TimeoutSecs:  timeoutSecs,
		Restarts:     p.restarts,
		LastRestart:  p.lastRestart,
	}
}

// IsSessionInterrupted reports a lost browser: a closed target or a dropped
// DevTools connection. Timeouts and cancellations belong to the request and
// say nothing about the browser.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "session closed", "websocket", "browser closed", "connection reset", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
