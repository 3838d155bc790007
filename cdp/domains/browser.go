// Package domains wraps the CDP domains the browser backends use behind
// small interfaces over a cdp.Executor.
package domains

import (
	"context"
	"fmt"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
)

// Version describes the browser on the other end of a connection.
type Version struct {
	Protocol  string
	Product   string
	UserAgent string
}

// Browser exposes the CDP Browser domain actions.
type Browser interface {
	Close(ctx context.Context) error
	Version(ctx context.Context) (Version, error)
}

var _ Browser = &browser{}

type browser struct {
	exec cdp.Executor
}

// NewBrowser returns a new CDP Browser domain wrapper.
func NewBrowser(exec cdp.Executor) Browser {
	return &browser{exec}
}

func (b *browser) Close(ctx context.Context) error {
	action := cdpb.Close()
	if err := action.Do(cdp.WithExecutor(ctx, b.exec)); err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}

	return nil
}

// Version doubles as a liveness probe: it is cheap and every CDP browser
// implements it.
func (b *browser) Version(ctx context.Context) (Version, error) {
	action := cdpb.GetVersion()
	protocol, product, _, userAgent, _, err := action.Do(cdp.WithExecutor(ctx, b.exec))
	if err != nil {
		return Version{}, fmt.Errorf("getting browser version: %w", err)
	}

	return Version{Protocol: protocol, Product: product, UserAgent: userAgent}, nil
}
