package lightpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	protocdp "github.com/chromedp/cdproto/cdp"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/cdp"
	"github.com/grafana/browser-session/common"
	"github.com/grafana/browser-session/log"
)

const closePageTimeout = 2 * time.Second

var _ api.Page = &Page{}

// Page is a Lightpanda target attached with a flat session. Every command
// of the page carries the session ID.
type Page struct {
	client   *cdp.Client
	logger   *log.Logger
	settings api.BrowserSettings

	browserContextID string
	targetID         string
	sessionID        string

	console   common.ConsoleBuffer
	lifecycle *common.LifecycleWatcher
	mouse     *common.Mouse
	keyboard  *common.Keyboard
	shooter   *common.Screenshotter

	urlMu   sync.Mutex
	lastURL string

	unsubscribe func()
	stop        chan struct{}
	loopDone    chan struct{}
	closeOnce   sync.Once
}

func newPage(ctx context.Context, b *Browser) (_ *Page, err error) {
	s := b.settings
	p := &Page{
		client:    b.client,
		logger:    b.logger,
		settings:  s,
		lifecycle: common.NewLifecycleWatcher(),
		mouse:     common.NewMouse(),
		keyboard:  common.NewKeyboard(),
		shooter:   common.NewScreenshotter(s.ScreenshotFormat, s.ScreenshotQuality, s.Viewport, b.logger),
		lastURL:   "about:blank",
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	defer func() {
		if err != nil {
			_ = p.close(ctx)
		}
	}()

	if p.browserContextID, err = p.client.Target.CreateBrowserContext(ctx, false); err != nil {
		return nil, err
	}
	if p.targetID, err = p.client.Target.CreateTarget(ctx, "about:blank", p.browserContextID); err != nil {
		return nil, err
	}
	if p.sessionID, err = p.client.Target.AttachToTarget(ctx, p.targetID); err != nil {
		return nil, err
	}
	b.logger.Debugf("lightpanda:newPage", "bctxid:%q tid:%q sid:%q", p.browserContextID, p.targetID, p.sessionID)

	sctx := cdp.WithSessionID(ctx, p.sessionID)
	events, unsubscribe := p.client.Subscribe(sctx,
		cdproto.EventRuntimeConsoleAPICalled,
		cdproto.EventRuntimeExceptionThrown,
		cdproto.EventPageLifecycleEvent,
		cdproto.EventPageLoadEventFired,
	)
	p.unsubscribe = unsubscribe
	go p.loop(events)

	if err := p.client.Page.Enable(sctx); err != nil {
		return nil, err
	}
	if err := p.client.Runtime.Enable(sctx); err != nil {
		return nil, err
	}
	if err := p.optional("lifecycle events", p.client.Page.SetLifecycleEventsEnabled(sctx, true)); err != nil {
		return nil, err
	}
	vp := s.Viewport
	if err := p.optional("viewport", p.client.Emulation.SetViewport(sctx, vp.Width, vp.Height)); err != nil {
		return nil, err
	}

	return p, nil
}

// optional ignores err if the browser does not implement the command.
func (p *Page) optional(what string, err error) error {
	if cdp.IsMethodNotFound(err) {
		p.logger.Debugf("lightpanda:newPage", "sid:%q %s not supported: %v", p.sessionID, what, err)
		return nil
	}
	return err
}

func (p *Page) loop(events <-chan *cdp.Event) {
	defer close(p.loopDone)

	for {
		select {
		case ev := <-events:
			p.console.Listen(ev.Data)
			p.lifecycle.Listen(ev.Data)
		case <-p.stop:
			return
		case <-p.client.Done():
			return
		}
	}
}

// sessionCtx returns ctx routing protocol commands to the page.
func (p *Page) sessionCtx(ctx context.Context) context.Context {
	return protocdp.WithExecutor(cdp.WithSessionID(ctx, p.sessionID), p.client)
}

// Goto navigates to url and waits for its load event, then for the network
// to go idle for at most the idle timeout.
func (p *Page) Goto(ctx context.Context, url string) error {
	p.logger.Debugf("lightpanda:Goto", "sid:%q url:%q", p.sessionID, url)

	navErr := func(err error) error {
		return api.NewError(api.ErrNavigation, api.BackendLightpanda, "goto", err)
	}

	// Lightpanda loads synchronously and may report the load before it
	// answers the navigation, so the state is reset beforehand.
	p.lifecycle.Reset("")
	frameID, err := p.client.Page.Navigate(cdp.WithSessionID(ctx, p.sessionID), url)
	if err != nil {
		return navErr(err)
	}
	p.lifecycle.SetFrame(protocdp.FrameID(frameID))

	p.urlMu.Lock()
	p.lastURL = url
	p.urlMu.Unlock()

	if err := p.lifecycle.WaitLoad(ctx); err != nil {
		return navErr(fmt.Errorf("waiting for %q to load: %w", url, err))
	}

	ictx, cancel := context.WithTimeout(ctx, p.settings.IdleTimeout)
	defer cancel()
	if err := p.lifecycle.WaitIdle(ictx); err != nil {
		p.logger.Debugf("lightpanda:Goto", "sid:%q url:%q network did not go idle: %v", p.sessionID, url, err)
	}

	return nil
}

// PointerClick clicks the left mouse button at x,y.
func (p *Page) PointerClick(ctx context.Context, x, y int64) error {
	if err := p.mouse.Click(p.sessionCtx(ctx), x, y); err != nil {
		return fmt.Errorf("clicking at %d,%d: %w", x, y, err)
	}
	return nil
}

// KeyboardType sends the key events of every character of text.
func (p *Page) KeyboardType(ctx context.Context, text string) error {
	if err := p.keyboard.Type(p.sessionCtx(ctx), text); err != nil {
		return fmt.Errorf("typing %d characters: %w", len([]rune(text)), err)
	}
	return nil
}

// ScrollBy scrolls the window by dx,dy CSS pixels.
func (p *Page) ScrollBy(ctx context.Context, dx, dy int64) error {
	expr := fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)
	if err := p.client.Runtime.Evaluate(cdp.WithSessionID(ctx, p.sessionID), expr, nil); err != nil {
		return fmt.Errorf("scrolling by %d,%d: %w", dx, dy, err)
	}
	return nil
}

// Screenshot captures the viewport. Lightpanda does not render pages, so a
// blank image of the viewport size stands in when it cannot capture one.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.shooter.Capture(p.sessionCtx(ctx))
}

// DrainConsoleLogs returns the console lines since the last call.
func (p *Page) DrainConsoleLogs() []string {
	return p.console.Drain()
}

// CurrentURL returns the location of the page, or the last URL it was
// navigated to if the page cannot tell.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := p.client.Runtime.Evaluate(cdp.WithSessionID(ctx, p.sessionID), "location.href", &url)
	if err == nil && url != "" {
		return url, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("getting page location: %w", ctx.Err())
	}

	p.urlMu.Lock()
	defer p.urlMu.Unlock()
	p.logger.Debugf("lightpanda:CurrentURL", "sid:%q using last navigated URL: %v", p.sessionID, err)
	return p.lastURL, nil
}

// close stops the event loop and closes the target and its browser
// context while the connection is up.
func (p *Page) close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		if p.unsubscribe != nil {
			p.unsubscribe()
			<-p.loopDone
		}
		if p.client.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closePageTimeout)
		defer cancel()

		var errs []error
		if p.targetID != "" {
			if cerr := p.client.Target.CloseTarget(ctx, p.targetID); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		if p.browserContextID != "" {
			if cerr := p.client.Target.DisposeBrowserContext(ctx, p.browserContextID); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
