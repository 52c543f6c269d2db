// Package render turns markup into print-ready PDF bytes with headless Chrome.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"printserver/internal/chrome"
	"printserver/internal/domain"
	u "printserver/internal/utils"
)

const (
	cssPixelsPerInch = 96.0
	networkQuiet     = 500 * time.Millisecond
	acquireTimeout   = 5 * time.Second
)

// Renderer converts markup to a paginated PDF.
type Renderer interface {
	Render(ctx context.Context, markup, pageSize string) ([]byte, error)
}

// ChromeRenderer renders with chromedp, either launching a browser per call
// or leasing tabs from a shared pool when pdf.chrome_pool_size > 0.
type ChromeRenderer struct {
	cfg u.Config

	poolMu sync.Mutex
	pool   *chrome.Pool

	renderTab func(ctx context.Context, markup string, paper u.PaperSize, margin float64) ([]byte, error)
}

// tabPool is the part of *chrome.Pool used for pooled rendering.
type tabPool interface {
	Acquire(ctx context.Context) (*chrome.Tab, error)
	Release(tab *chrome.Tab, renderErr error)
	RestartGeneration(gen uint64) (bool, error)
}

// NewChromeRenderer creates a renderer; the pool, if any, is built lazily.
func NewChromeRenderer(cfg u.Config) *ChromeRenderer {
	return &ChromeRenderer{cfg: cfg, renderTab: renderInTab}
}

// Render loads markup into an isolated tab, waits for the network to settle,
// switches to screen media and prints it using pageSize with backgrounds and
// a fixed margin on every side.
func (r *ChromeRenderer) Render(ctx context.Context, markup, pageSize string) ([]byte, error) {
	paper, err := r.paperFor(pageSize)
	if err != nil {
		return nil, domain.Wrap(domain.ErrRender, err)
	}

	pool, err := r.getPool()
	if err != nil {
		return nil, domain.Wrap(domain.ErrRender, err)
	}

	var pdf []byte
	if pool == nil {
		pdf, err = r.renderWithChrome(ctx, markup, paper)
	} else {
		pdf, err = r.renderPooled(ctx, pool, markup, paper)
	}
	if err != nil {
		return nil, domain.Wrap(domain.ErrRender, err)
	}
	if len(pdf) == 0 {
		return nil, domain.Wrap(domain.ErrRender, errors.New("renderer produced an empty document"))
	}
	return pdf, nil
}

// PoolStats reports the tab pool, or ok=false when pooling is disabled.
func (r *ChromeRenderer) PoolStats() (chrome.Stats, bool, error) {
	pool, err := r.getPool()
	if err != nil || pool == nil {
		return chrome.Stats{}, false, err
	}
	return pool.Stats(r.cfg.PDF.TimeoutSecs), true, nil
}

// Close shuts down the pooled browser, if one was started.
func (r *ChromeRenderer) Close() {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

func (r *ChromeRenderer) getPool() (*chrome.Pool, error) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	if r.cfg.PDF.ChromePoolSize <= 0 {
		return nil, nil
	}
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := chrome.NewPool(r.cfg)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return pool, nil
}

// paperFor resolves a page size token case-insensitively; empty means the
// configured default.
func (r *ChromeRenderer) paperFor(pageSize string) (u.PaperSize, error) {
	name := strings.ToUpper(strings.TrimSpace(pageSize))
	if name == "" {
		name = r.cfg.PDF.DefaultPaper
	}
	paper, ok := r.cfg.PDF.PaperSizes[name]
	if !ok {
		return u.PaperSize{}, fmt.Errorf("unknown paper size %q", pageSize)
	}
	return paper, nil
}

func (r *ChromeRenderer) marginInches() float64 {
	return r.cfg.PDF.MarginPx / cssPixelsPerInch
}

func (r *ChromeRenderer) timeout() time.Duration {
	return time.Duration(r.cfg.PDF.TimeoutSecs) * time.Second
}

// renderWithChrome launches a dedicated browser with a throwaway profile.
func (r *ChromeRenderer) renderWithChrome(ctx context.Context, markup string, paper u.PaperSize) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "chromedata-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chrome.AllocatorOptions(r.cfg, tmpDir)...)
	defer allocCancel()

	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	chromeCtx, cancelTimeout := context.WithTimeout(chromeCtx, r.timeout())
	defer cancelTimeout()

	return r.renderTab(chromeCtx, markup, paper, r.marginInches())
}

// renderPooled leases a tab and renders in it. If the browser was lost
// underneath the tab, the pool is restarted (unless another request already
// did) and the render is retried once on the new browser. Failing to get a
// tab, or hitting the render timeout, never restarts the shared browser.
func (r *ChromeRenderer) renderPooled(ctx context.Context, pool tabPool, markup string, paper u.PaperSize) ([]byte, error) {
	pdf, gen, lost, err := r.renderLeased(ctx, pool, markup, paper)
	if err == nil || !lost || ctx.Err() != nil {
		return pdf, err
	}

	restarted, rerr := pool.RestartGeneration(gen)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	u.Warn("Chrome session lost; retrying once", "error", err, "generation", gen, "restarted", restarted)

	pdf, _, _, err = r.renderLeased(ctx, pool, markup, paper)
	return pdf, err
}

// renderLeased runs one render in a pooled tab. lost reports that the
// browser behind the tab went away while the request was still live.
func (r *ChromeRenderer) renderLeased(ctx context.Context, pool tabPool, markup string, paper u.PaperSize) (pdf []byte, gen uint64, lost bool, err error) {
	acquireCtx, acquireCancel := context.WithTimeout(ctx, acquireTimeout)
	tab, err := pool.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return nil, 0, false, fmt.Errorf("acquire chrome tab: %w", err)
	}

	tabCtx, cancel := context.WithTimeout(tab.Ctx, r.timeout())
	stop := context.AfterFunc(ctx, cancel)
	pdf, err = r.renderTab(tabCtx, markup, paper, r.marginInches())
	stop()

	if err != nil && ctx.Err() == nil {
		switch tabErr := tabCtx.Err(); {
		case errors.Is(tabErr, context.DeadlineExceeded):
			// The page itself was too slow.
		case errors.Is(tabErr, context.Canceled):
			lost = true
		default:
			lost = chrome.IsSessionInterrupted(err)
		}
	}
	cancel()

	pool.Release(tab, err)
	return pdf, tab.Generation, lost, err
}

// renderInTab runs the load, settle, emulate, print sequence in a chromedp tab.
func renderInTab(ctx context.Context, markup string, paper u.PaperSize, margin float64) ([]byte, error) {
	if chromedp.FromContext(ctx) == nil {
		return nil, chromedp.ErrInvalidContext
	}
	tracker := newNetworkTracker()
	chromedp.ListenTarget(ctx, tracker.observe)

	var pdf []byte
	err := chromedp.Run(ctx,
		network.Enable(),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, markup).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForNetworkIdle(ctx, tracker, networkQuiet)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetEmulatedMedia().WithMedia("screen").Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paper.Width).
				WithPaperHeight(paper.Height).
				WithMarginTop(margin).
				WithMarginRight(margin).
				WithMarginBottom(margin).
				WithMarginLeft(margin).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}
