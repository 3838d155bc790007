// Package lightpanda is the lightpanda backend: it starts a Lightpanda CDP
// server, or connects to a running one, and drives it with the in-repo CDP
// client.
package lightpanda

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/browserprocess"
	"github.com/grafana/browser-session/cdp"
)

const (
	// DefaultBinary is looked up in PATH when no path is configured.
	DefaultBinary = "lightpanda"

	host        = "127.0.0.1"
	logFileName = "lightpanda.log"
	// inactivityTimeout is how long, in seconds, the server keeps an idle
	// CDP connection open.
	inactivityTimeout = 3600
)

var _ api.Backend = &BrowserType{}

// BrowserType launches Lightpanda browsers.
type BrowserType struct {
	// HTTPClient resolves DevTools URLs. http.DefaultClient is used if it
	// is nil.
	HTTPClient *http.Client
}

// New returns a new Lightpanda browser type.
func New() *BrowserType {
	return &BrowserType{}
}

// Kind returns the backend kind.
func (*BrowserType) Kind() api.BackendKind {
	return api.BackendLightpanda
}

// Launch starts `lightpanda serve` on a free loopback port, or uses the
// remote browser of the settings, and connects to it within the launch
// timeout.
func (b *BrowserType) Launch(ctx context.Context, opts api.LaunchOptions) (_ api.BrowserHandle, err error) {
	logger := opts.Logger.WithField("backend", api.BackendLightpanda)
	ctx = browserprocess.WithSessionID(ctx, opts.SessionID)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout())
	defer cancel()

	browser := &Browser{
		client:   cdp.NewClient(logger),
		settings: opts.Settings,
		logger:   logger,
	}
	defer func() {
		if err != nil {
			browser.release(context.Background())
		}
	}()

	var wsURL string
	if remote := opts.Settings.RemoteBrowserHost; remote != "" {
		if wsURL, err = browserprocess.DiscoverWebSocketURL(ctx, b.httpClient(), remote); err != nil {
			return nil, launchErr(err)
		}
	} else {
		if browser.proc, err = start(ctx, opts); err != nil {
			return nil, launchErr(err)
		}
		wsURL = "ws://" + browser.proc.addr + "/"
	}

	if err := browser.client.Connect(ctx, wsURL); err != nil {
		return nil, launchErr(fmt.Errorf("connecting to %q: %w", wsURL, err))
	}

	version, err := browser.client.Browser.Version(ctx)
	if err != nil {
		return nil, launchErr(fmt.Errorf("getting browser version: %w", err))
	}
	logger.Debugf("lightpanda:launch", "connected to %q product:%q protocol:%q", wsURL, version.Product, version.Protocol)

	return browser, nil
}

func (b *BrowserType) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

type process struct {
	*browserprocess.Process
	addr string
}

func start(ctx context.Context, opts api.LaunchOptions) (*process, error) {
	path := opts.Settings.LightpandaPath
	if path == "" {
		var err error
		if path, err = exec.LookPath(DefaultBinary); err != nil {
			return nil, fmt.Errorf("finding %s binary: %w", DefaultBinary, err)
		}
	}

	port, err := browserprocess.FreePort()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	proc, err := browserprocess.Start(ctx, browserprocess.Config{
		Path: path,
		Args: []string{
			"serve",
			"--host", host,
			"--port", strconv.Itoa(port),
			"--timeout", strconv.Itoa(inactivityTimeout),
		},
		Dir:     opts.DataDir,
		LogFile: filepath.Join(opts.DataDir, logFileName),
	}, opts.Logger)
	if err != nil {
		return nil, err
	}

	if err := proc.WaitForPort(ctx, addr); err != nil {
		tctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
		defer cancel()
		_ = proc.Terminate(tctx)
		return nil, fmt.Errorf("waiting for lightpanda on %s: %w", addr, err)
	}

	return &process{Process: proc, addr: addr}, nil
}

func launchErr(err error) error {
	return api.NewError(api.ErrLaunch, api.BackendLightpanda, "launch", err)
}
