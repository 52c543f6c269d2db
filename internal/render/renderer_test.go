package render

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printserver/internal/domain"
	u "printserver/internal/utils"
)

func testRenderCfg() u.Config {
	cfg := u.DefaultConfig()
	cfg.PDF.TimeoutSecs = 1
	return cfg
}

func TestPaperFor(t *testing.T) {
	r := NewChromeRenderer(testRenderCfg())

	a4, err := r.paperFor("a4")
	require.NoError(t, err)
	assert.Equal(t, u.PaperSize{Width: 8.27, Height: 11.7}, a4)

	letter, err := r.paperFor(" Letter ")
	require.NoError(t, err)
	assert.Equal(t, 8.5, letter.Width)

	def, err := r.paperFor("")
	require.NoError(t, err)
	assert.Equal(t, a4, def)

	_, err = r.paperFor("b0")
	assert.ErrorContains(t, err, `unknown paper size "b0"`)
}

func TestMarginInches(t *testing.T) {
	r := NewChromeRenderer(testRenderCfg())
	assert.InDelta(t, 20.0/96.0, r.marginInches(), 1e-9)
}

func TestRender_UnknownPaperSizeIsRenderError(t *testing.T) {
	r := NewChromeRenderer(testRenderCfg())
	_, err := r.Render(context.Background(), "<p>hi</p>", "postcard")
	assert.ErrorIs(t, err, domain.ErrRender)
}

func TestRender_MissingBrowserIsRenderError(t *testing.T) {
	cfg := testRenderCfg()
	cfg.PDF.ChromePath = "/definitely/missing/chrome"
	r := NewChromeRenderer(cfg)

	_, err := r.Render(context.Background(), "<p>hi</p>", "a4")
	assert.ErrorIs(t, err, domain.ErrRender)
}

func TestRender_PooledMissingBrowserIsRenderError(t *testing.T) {
	cfg := testRenderCfg()
	cfg.PDF.ChromePath = "/definitely/missing/chrome"
	cfg.PDF.ChromePoolSize = 1
	cfg.PDF.UserDataDir = t.TempDir()
	r := NewChromeRenderer(cfg)
	defer r.Close()

	_, err := r.Render(context.Background(), "<p>hi</p>", "a4")
	assert.ErrorIs(t, err, domain.ErrRender)

	st, ok, err := r.PoolStats()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, st.Idle)
}

func TestPoolStats_Disabled(t *testing.T) {
	r := NewChromeRenderer(testRenderCfg())
	_, ok, err := r.PoolStats()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRenderInTab_RequiresChromedpContext(t *testing.T) {
	_, err := renderInTab(context.Background(), "<p>hi</p>", u.PaperSize{Width: 8.27, Height: 11.7}, 0.2)
	assert.ErrorIs(t, err, chromedp.ErrInvalidContext)
}

func TestRenderInTab_ContextCanceled(t *testing.T) {
	ctx, cancel := chromedp.NewContext(context.Background())
	cancel()
	_, err := renderInTab(ctx, "<p>hi</p>", u.PaperSize{Width: 8.27, Height: 11.7}, 0.2)
	assert.Error(t, err)
}

func TestNetworkTracker(t *testing.T) {
	tr := newNetworkTracker()
	tr.observe(&network.EventRequestWillBeSent{RequestID: "1"})
	tr.observe(&network.EventRequestWillBeSent{RequestID: "2"})
	assert.Zero(t, tr.idleFor())

	tr.observe(&network.EventLoadingFinished{RequestID: "1"})
	assert.Zero(t, tr.idleFor())

	tr.observe(&network.EventLoadingFailed{RequestID: "2"})
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, tr.idleFor(), time.Duration(0))

	// Unknown completions do not reset the quiet period.
	before := tr.idleFor()
	tr.observe(&network.EventLoadingFinished{RequestID: "9"})
	assert.GreaterOrEqual(t, tr.idleFor(), before)
}

func TestWaitForNetworkIdle(t *testing.T) {
	tr := newNetworkTracker()
	tr.started("img")

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.finished("img")
	}()

	start := time.Now()
	require.NoError(t, waitForNetworkIdle(context.Background(), tr, 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitForNetworkIdle_ContextCanceled(t *testing.T) {
	tr := newNetworkTracker()
	tr.started("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waitForNetworkIdle(ctx, tr, 10*time.Millisecond), context.DeadlineExceeded)
}

// TestRender_ProducesPDF needs a real Chrome/Chromium on PATH.
func TestRender_ProducesPDF(t *testing.T) {
	var bin string
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			bin = p
			break
		}
	}
	if bin == "" {
		t.Skip("no Chrome binary available")
	}

	cfg := testRenderCfg()
	cfg.PDF.ChromePath = bin
	cfg.PDF.TimeoutSecs = 30
	r := NewChromeRenderer(cfg)

	pdf, err := r.Render(context.Background(), `<html><body style="background:#eee"><p>hi</p></body></html>`, "")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")), "missing PDF signature")
}
