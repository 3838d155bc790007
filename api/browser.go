package api

import (
	"context"
)

// BrowserHandle is a launched backend browser process or connection.
type BrowserHandle interface {
	// OpenPage opens the single page a session works with.
	OpenPage(ctx context.Context) (Page, error)
	// Ping checks that the backend still answers protocol commands.
	Ping(ctx context.Context) error
	// Alive returns false once the connection to the backend is lost or
	// the backend process has ended.
	Alive() bool
	// Teardown releases the page, the connection and the process.
	// It is best effort and must be safe to call more than once.
	Teardown(ctx context.Context) error
}

// Page is the active page of a backend browser.
type Page interface {
	// Goto navigates to url and waits for the page to load and then to
	// become idle.
	Goto(ctx context.Context, url string) error
	// PointerClick presses and releases the left mouse button at x, y.
	PointerClick(ctx context.Context, x, y int64) error
	// KeyboardType sends key events for each character of text.
	KeyboardType(ctx context.Context, text string) error
	// ScrollBy scrolls the page by the given number of CSS pixels.
	ScrollBy(ctx context.Context, dx, dy int64) error
	// Screenshot captures the viewport in the configured format.
	Screenshot(ctx context.Context) ([]byte, error)
	// DrainConsoleLogs returns the console lines emitted since the last
	// drain, in emission order.
	DrainConsoleLogs() []string
	// CurrentURL returns the URL of the page.
	CurrentURL(ctx context.Context) (string, error)
}
