package lightpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/cdp"
	"github.com/grafana/browser-session/log"
)

const terminateTimeout = 5 * time.Second

var _ api.BrowserHandle = &Browser{}

// Browser is a connection to a Lightpanda CDP server, and the server
// process if it was started by the launch.
type Browser struct {
	client   *cdp.Client
	proc     *process
	settings api.BrowserSettings
	logger   *log.Logger

	pageMu sync.Mutex
	page   *Page

	closeOnce sync.Once
}

// OpenPage creates the page of the session in its own browser context.
// Later calls return the same page.
func (b *Browser) OpenPage(ctx context.Context) (api.Page, error) {
	b.pageMu.Lock()
	defer b.pageMu.Unlock()

	if b.page != nil {
		return b.page, nil
	}

	p, err := newPage(ctx, b)
	if err != nil {
		return nil, api.NewError(api.ErrLaunch, api.BackendLightpanda, "open page", err)
	}
	b.page = p

	return p, nil
}

// Ping asks the browser for its version.
func (b *Browser) Ping(ctx context.Context) error {
	_, err := b.client.Browser.Version(ctx)
	return err
}

// Alive reports whether the CDP connection is up and the server process,
// if any, still runs.
func (b *Browser) Alive() bool {
	if b.client.Err() != nil {
		return false
	}
	return b.proc == nil || b.proc.Alive()
}

// Teardown closes the page, disconnects and stops the server process.
// Every step is attempted even if a previous one failed.
func (b *Browser) Teardown(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.release(ctx)
	})
	return err
}

func (b *Browser) release(ctx context.Context) error {
	var errs []error

	b.pageMu.Lock()
	page := b.page
	b.pageMu.Unlock()
	if page != nil {
		if err := page.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing CDP connection: %w", err))
	}

	if b.proc != nil {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		defer cancel()
		if err := b.proc.Terminate(tctx); err != nil {
			errs = append(errs, fmt.Errorf("terminating lightpanda: %w", err))
		}
		b.logger.Debugf("lightpanda:Teardown", "pid:%d ended: %v", b.proc.Pid(), b.proc.Err())
	}

	return errors.Join(errs...)
}
