package chromium

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/common"
)

var _ api.Page = &Page{}

// Page is the first tab of a Chromium browser.
type Page struct {
	browser *Browser

	console   common.ConsoleBuffer
	lifecycle *common.LifecycleWatcher
	shooter   *common.Screenshotter
}

func newPage(b *Browser) *Page {
	s := b.settings
	return &Page{
		browser:   b,
		lifecycle: common.NewLifecycleWatcher(),
		shooter:   common.NewScreenshotter(s.ScreenshotFormat, s.ScreenshotQuality, s.Viewport, b.logger),
	}
}

// onEvent runs on the chromedp event loop of the tab and must not block.
func (p *Page) onEvent(ev any) {
	p.console.Listen(ev)
	p.lifecycle.Listen(ev)
}

// Goto navigates to url, which chromedp waits to load, then waits for the
// network to go idle for at most the idle timeout.
func (p *Page) Goto(ctx context.Context, url string) error {
	logger := p.browser.logger
	logger.Debugf("chromium:Goto", "url:%q", url)

	if t := chromedp.FromContext(p.browser.ctx).Target; t != nil {
		p.lifecycle.Reset(cdp.FrameID(t.TargetID))
	} else {
		p.lifecycle.Reset("")
	}

	if err := p.browser.run(ctx, chromedp.Navigate(url)); err != nil {
		return api.NewError(api.ErrNavigation, api.BackendPuppeteer, "goto", fmt.Errorf("navigating to %q: %w", url, err))
	}

	ictx, cancel := context.WithTimeout(ctx, p.browser.settings.IdleTimeout)
	defer cancel()
	if err := p.lifecycle.WaitIdle(ictx); err != nil {
		logger.Debugf("chromium:Goto", "url:%q network did not go idle: %v", url, err)
	}

	return nil
}

// PointerClick clicks the left mouse button at x,y.
func (p *Page) PointerClick(ctx context.Context, x, y int64) error {
	if err := p.browser.run(ctx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return fmt.Errorf("clicking at %d,%d: %w", x, y, err)
	}
	return nil
}

// KeyboardType sends the key events of every character of text to the
// focused element.
func (p *Page) KeyboardType(ctx context.Context, text string) error {
	if err := p.browser.run(ctx, chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("typing %d characters: %w", len([]rune(text)), err)
	}
	return nil
}

// ScrollBy scrolls the window by dx,dy CSS pixels.
func (p *Page) ScrollBy(ctx context.Context, dx, dy int64) error {
	expr := fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)
	if err := p.browser.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("scrolling by %d,%d: %w", dx, dy, err)
	}
	return nil
}

// Screenshot captures the visible viewport.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.browser.run(ctx, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		buf, err = p.shooter.Capture(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// DrainConsoleLogs returns the console lines since the last call.
func (p *Page) DrainConsoleLogs() []string {
	return p.console.Drain()
}

// CurrentURL returns the URL of the document in the tab.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.browser.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("getting page location: %w", err)
	}
	return url, nil
}
