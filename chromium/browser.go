package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/browserprocess"
	"github.com/grafana/browser-session/log"
)

const gracefulCloseTimeout = 5 * time.Second

var _ api.BrowserHandle = &Browser{}

// Browser is a Chromium browser driven through chromedp. It owns the
// browser and the first tab, which is the only page a session uses.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	pid      int
	remote   bool
	logFile  *os.File
	settings api.BrowserSettings
	logger   *log.Logger

	pageMu sync.Mutex
	page   *Page

	closeOnce sync.Once
	done      chan struct{}
}

// OpenPage returns the page of the first tab with the viewport of the
// settings applied. Later calls return the same page.
func (b *Browser) OpenPage(ctx context.Context) (api.Page, error) {
	b.pageMu.Lock()
	defer b.pageMu.Unlock()

	if b.page != nil {
		return b.page, nil
	}

	p := newPage(b)
	chromedp.ListenTarget(b.ctx, p.onEvent)

	vp := b.settings.Viewport
	if err := b.run(ctx, chromedp.EmulateViewport(vp.Width, vp.Height)); err != nil {
		return nil, api.NewError(api.ErrLaunch, api.BackendPuppeteer, "open page", fmt.Errorf("setting viewport: %w", err))
	}
	b.page = p

	return p, nil
}

// Ping asks the browser for its version.
func (b *Browser) Ping(ctx context.Context) error {
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err == nil {
			b.logger.Tracef("chromium:Ping", "product:%q", product)
		}
		return err
	}))
}

// Alive reports whether the connection to the browser is still up.
func (b *Browser) Alive() bool {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	case <-b.ctx.Done():
		return false
	case <-c.Browser.LostConnection:
		return false
	default:
		return true
	}
}

// Teardown closes the browser gracefully and kills it if it does not exit
// in time. Closing a remote browser closes the remote process as well.
func (b *Browser) Teardown(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.close(ctx)
	})
	return err
}

func (b *Browser) close(ctx context.Context) error {
	defer close(b.done)
	b.logger.Debugf("chromium:Teardown", "pid:%d remote:%t", b.pid, b.remote)

	ctx, cancel := context.WithTimeout(ctx, gracefulCloseTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Cancel(b.ctx)
	}()

	var err error
	select {
	case err = <-errc:
		if errors.Is(err, context.Canceled) {
			// the connection was already gone
			err = nil
		}
	case <-ctx.Done():
		err = fmt.Errorf("closing browser: %w", ctx.Err())
	}
	if err != nil {
		b.logger.Warnf("chromium:Teardown", "graceful close failed, killing pid %d: %v", b.pid, err)
	}
	b.release()

	return err
}

// release frees what the launch allocated. It is safe to call more than
// once.
func (b *Browser) release() {
	b.cancel()
	b.allocCancel()
	if b.pid != 0 {
		browserprocess.Unregister(b.pid)
	}
	if b.logFile != nil {
		if err := b.logFile.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			b.logger.Debugf("chromium:release", "closing log file: %v", err)
		}
	}
}

// run executes actions on the first tab, bounded by ctx. Deriving from the
// browser context keeps a cancelled ctx from closing the tab.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
