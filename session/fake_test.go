package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/common"
)

// fakeBackend launches fakeHandles and records what it was asked.
type fakeBackend struct {
	kind api.BackendKind

	launchErr error
	openErr   error

	// launchBlock holds Launch until it is closed.
	launchBlock chan struct{}
	// launched receives the data directory of each launch.
	launched    chan string

	mu     sync.Mutex
	handle *fakeHandle
}

func newFakeBackend(kind api.BackendKind) *fakeBackend {
	return &fakeBackend{
		kind:     kind,
		launched: make(chan string, 8),
		handle:   newFakeHandle(),
	}
}

func (b *fakeBackend) Kind() api.BackendKind { return b.kind }

func (b *fakeBackend) Launch(ctx context.Context, opts api.LaunchOptions) (api.BrowserHandle, error) {
	b.launched <- opts.DataDir
	if b.launchBlock != nil {
		select {
		case <-b.launchBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.launchErr != nil {
		return nil, b.launchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle.openErr = b.openErr
	b.handle.page.viewport = opts.Settings.Viewport
	return b.handle, nil
}

type fakeHandle struct {
	dead        atomic.Bool
	pingErr     error
	openErr     error
	teardownErr error
	teardowns   atomic.Int32
	page        *fakePage
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{page: newFakePage()}
}

func (h *fakeHandle) OpenPage(context.Context) (api.Page, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	return h.page, nil
}

func (h *fakeHandle) Ping(context.Context) error {
	if h.dead.Load() {
		return errors.New("connection closed")
	}
	return h.pingErr
}

func (h *fakeHandle) Alive() bool { return !h.dead.Load() }

func (h *fakeHandle) Teardown(context.Context) error {
	h.teardowns.Add(1)
	return h.teardownErr
}

// fakePage keeps the effect of every call. Set block to hold the next
// action until it is closed.
type fakePage struct {
	mu       sync.Mutex
	viewport api.Viewport
	url      string
	logs     []string
	clicks   []string
	typed    []string
	scrolls  []int64

	gotoErr  error
	// redirect is where the next Goto lands instead of its URL.
	redirect string
	clickErr error
	shotErr  error

	block   chan struct{}
	started chan struct{}
}

func newFakePage() *fakePage {
	return &fakePage{
		url:      "about:blank",
		viewport: api.Viewport{Width: api.DefaultViewportWidth, Height: api.DefaultViewportHeight},
		started:  make(chan struct{}, 8),
	}
}

func (p *fakePage) wait(ctx context.Context) error {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gotoErr != nil {
		return p.gotoErr
	}
	p.url = url
	if p.redirect != "" {
		p.url, p.redirect = p.redirect, ""
	}
	p.logs = append(p.logs, "[log] loaded "+url)
	return nil
}

func (p *fakePage) PointerClick(ctx context.Context, x, y int64) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicks = append(p.clicks, fmt.Sprintf("%d,%d", x, y))
	p.logs = append(p.logs, fmt.Sprintf("[log] clicked %d,%d", x, y))
	return nil
}

func (p *fakePage) KeyboardType(ctx context.Context, text string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, text)
	return nil
}

func (p *fakePage) ScrollBy(ctx context.Context, _, dy int64) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, dy)
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return common.PlaceholderImage(p.viewport)
}

func (p *fakePage) DrainConsoleLogs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	logs := p.logs
	p.logs = nil
	return logs
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) set(fn func(p *fakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}
