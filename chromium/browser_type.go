// Package chromium is the puppeteer backend: it launches a Chromium browser
// process, or connects to a running one, and drives it through chromedp.
package chromium

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/browserprocess"
	"github.com/grafana/browser-session/log"
)

const (
	profileDirName = "profile"
	logFileName    = "chromium.log"
)

var _ api.Backend = &BrowserType{}

// BrowserType launches Chromium browsers.
type BrowserType struct {
	// HTTPClient resolves the DevTools URL of remote browsers given as
	// http://host:port. http.DefaultClient is used if it is nil.
	HTTPClient *http.Client
}

// New returns a new Chromium browser type.
func New() *BrowserType {
	return &BrowserType{}
}

// Kind returns the backend kind.
func (*BrowserType) Kind() api.BackendKind {
	return api.BackendPuppeteer
}

// Launch starts Chromium, or connects to the remote browser of the
// settings, and waits until it answers within the launch timeout.
func (b *BrowserType) Launch(ctx context.Context, opts api.LaunchOptions) (_ api.BrowserHandle, err error) {
	logger := opts.Logger.WithField("backend", api.BackendPuppeteer)
	ctx = browserprocess.WithSessionID(ctx, opts.SessionID)

	launchErr := func(err error) error {
		return api.NewError(api.ErrLaunch, api.BackendPuppeteer, "launch", err)
	}

	// The browser outlives the launch call, so its contexts must not be
	// cancelled with ctx.
	parent := context.WithoutCancel(ctx)

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
		logFile     *os.File
		remote      = opts.Settings.RemoteBrowserHost != ""
	)
	if remote {
		client := b.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		dctx, cancel := context.WithTimeout(ctx, opts.Timeout())
		wsURL, err := browserprocess.DiscoverWebSocketURL(dctx, client, opts.Settings.RemoteBrowserHost)
		cancel()
		if err != nil {
			return nil, launchErr(err)
		}
		logger.Debugf("chromium:launch", "connecting to remote browser at %q", wsURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, wsURL, chromedp.NoModifyURL)
	} else {
		if logFile, err = os.Create(filepath.Join(opts.DataDir, logFileName)); err != nil {
			return nil, launchErr(fmt.Errorf("creating browser log file: %w", err))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocatorOptions(opts, logFile)...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx, contextOptions(logger, opts.Settings.Debug)...)
	browser := &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logFile:     logFile,
		remote:      remote,
		settings:    opts.Settings,
		logger:      logger,
		done:        make(chan struct{}),
	}
	defer func() {
		if err != nil {
			browser.release()
		}
	}()

	if err := firstRun(ctx, browserCtx, opts.Timeout()); err != nil {
		return nil, launchErr(err)
	}

	if proc := chromedp.FromContext(browserCtx).Browser.Process(); proc != nil {
		browser.pid = proc.Pid
		browserprocess.Register(ctx, logger, proc.Pid)
	}
	logger.Debugf("chromium:launch", "browser is ready pid:%d remote:%t", browser.pid, remote)

	return browser, nil
}

// firstRun allocates the browser and its first tab. The first run must not
// be bound to a deadline as chromedp ties the browser lifetime to it, so the
// launch timeout is enforced around it instead.
func firstRun(ctx, browserCtx context.Context, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func allocatorOptions(opts api.LaunchOptions, output *os.File) []chromedp.ExecAllocatorOption {
	s := opts.Settings
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], //nolint:gocritic
		chromedp.UserDataDir(filepath.Join(opts.DataDir, profileDirName)),
		chromedp.WindowSize(int(s.Viewport.Width), int(s.Viewport.Height)),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.CombinedOutput(output),
	)
	if s.ChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.ChromiumPath))
	}
	return allocOpts
}

func contextOptions(logger *log.Logger, debug bool) []chromedp.ContextOption {
	opts := []chromedp.ContextOption{
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Infof("chromium:chromedp", format, args...)
		}),
		// chromedp reports events it cannot decode as errors.
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debugf("chromium:chromedp", format, args...)
		}),
	}
	if debug {
		opts = append(opts, chromedp.WithDebugf(func(format string, args ...any) {
			logger.Debugf("chromium:cdp", format, args...)
		}))
	}
	return opts
}
