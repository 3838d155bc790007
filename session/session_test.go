package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/chromium"
	"github.com/grafana/browser-session/lightpanda"
	"github.com/grafana/browser-session/log"
	"github.com/grafana/browser-session/metrics"
	"github.com/grafana/browser-session/trace"
)

func testSettings(t *testing.T) api.BrowserSettings {
	t.Helper()

	s := api.DefaultBrowserSettings()
	s.HeadlessBrowserType = api.BackendLightpanda
	s.StoragePath = t.TempDir()
	s.SettleDelay = time.Millisecond
	s.ActionTimeout = 5 * time.Second
	return s
}

func newTestSession(t *testing.T, modify func(*api.BrowserSettings), opts ...Option) (*BrowserSession, *fakeBackend) {
	t.Helper()

	settings := testSettings(t)
	if modify != nil {
		modify(&settings)
	}
	b := newFakeBackend(settings.HeadlessBrowserType)
	s, err := New(settings, append([]Option{WithBackend(b)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.CloseBrowser(context.Background()) })

	return s, b
}

func storageEntries(t *testing.T, s *BrowserSession) []string {
	t.Helper()

	entries, err := os.ReadDir(s.settings.StoragePath)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, b := newTestSession(t, nil)
	page := b.handle.page

	assert.Equal(t, StateUninitialized, s.State())
	assert.Equal(t, api.BackendLightpanda, s.BackendKind())
	assert.NotEmpty(t, s.ID())

	_, err := s.NavigateToURL(ctx, "http://127.0.0.1/")
	require.ErrorIs(t, err, api.ErrNotLaunched)

	require.NoError(t, s.LaunchBrowser(ctx))
	assert.Equal(t, StateLaunched, s.State())
	dirs := storageEntries(t, s)
	require.Len(t, dirs, 1)
	assert.True(t, strings.HasPrefix(dirs[0], "lightpanda-"), dirs[0])
	assert.Equal(t, filepath.Join(s.settings.StoragePath, dirs[0]), <-b.launched)

	// launching again keeps the running browser
	require.NoError(t, s.LaunchBrowser(ctx))
	assert.Empty(t, b.launched)

	res, err := s.NavigateToURL(ctx, "http://127.0.0.1/index.html")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1/index.html", res.CurrentURL)
	assert.True(t, strings.HasPrefix(res.Screenshot, "data:image/png;base64,"), res.Screenshot)
	assert.Equal(t, []string{"[log] loaded http://127.0.0.1/index.html"}, res.LogLines())
	assert.False(t, res.HasMousePosition())

	res, err = s.Click(ctx, " 150 , 150 ")
	require.NoError(t, err)
	assert.Equal(t, " 150 , 150 ", res.CurrentMousePosition)
	assert.Equal(t, []string{"150,150"}, page.clicks)
	assert.Equal(t, []string{
		"[log] loaded http://127.0.0.1/index.html",
		"[log] clicked 150,150",
	}, res.LogLines())

	res, err = s.Type(ctx, "Hello World")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello World"}, page.typed)
	assert.Equal(t, " 150 , 150 ", res.CurrentMousePosition)

	res, err = s.ScrollDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, " 150 , 150 ", res.CurrentMousePosition)
	_, err = s.ScrollUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{api.DefaultViewportHeight, -api.DefaultViewportHeight}, page.scrolls)

	s.CloseBrowser(ctx)
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, storageEntries(t, s))
	assert.EqualValues(t, 1, b.handle.teardowns.Load())

	s.CloseBrowser(ctx)
	assert.EqualValues(t, 1, b.handle.teardowns.Load())

	_, err = s.Click(ctx, "1,1")
	require.ErrorIs(t, err, api.ErrClosed)
	require.ErrorIs(t, s.LaunchBrowser(ctx), api.ErrClosed)
	assert.Empty(t, b.launched)
}

func TestSessionActionsBeforeLaunch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, nil)

	actions := map[string]func() (*api.ActionResult, error){
		"navigate":    func() (*api.ActionResult, error) { return s.NavigateToURL(ctx, "about:blank") },
		"click":       func() (*api.ActionResult, error) { return s.Click(ctx, "1,1") },
		"type":        func() (*api.ActionResult, error) { return s.Type(ctx, "a") },
		"scroll_down": func() (*api.ActionResult, error) { return s.ScrollDown(ctx) },
		"scroll_up":   func() (*api.ActionResult, error) { return s.ScrollUp(ctx) },
	}
	for name, action := range actions {
		res, err := action()
		assert.Nil(t, res, name)
		assert.ErrorIs(t, err, api.ErrNotLaunched, name)
	}

	// closing a session that never launched is fine
	s.CloseBrowser(ctx)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionClickInvalidCoordinate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, b := newTestSession(t, nil)
	require.NoError(t, s.LaunchBrowser(ctx))

	for _, c := range []string{"abc", "-1,2", "1,2,3", "", "1.5,2"} {
		_, err := s.Click(ctx, c)
		require.ErrorIs(t, err, api.ErrInvalidCoordinate, c)
	}
	assert.Empty(t, b.handle.page.clicks)
	assert.Equal(t, StateLaunched, s.State())

	res, err := s.Click(ctx, "10,20")
	require.NoError(t, err)
	assert.Equal(t, "10,20", res.CurrentMousePosition)
}

func TestSessionNavigationErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, b := newTestSession(t, nil)
	require.NoError(t, s.LaunchBrowser(ctx))

	t.Run("malformed", func(t *testing.T) {
		for _, u := range []string{"", "not a url", "http://", "://x"} {
			_, err := s.NavigateToURL(ctx, u)
			require.ErrorIs(t, err, api.ErrNavigation, u)
			require.ErrorIs(t, err, errMalformedURL, u)
		}
		assert.Equal(t, StateLaunched, s.State())
	})

	t.Run("unreachable", func(t *testing.T) {
		b.handle.page.set(func(p *fakePage) { p.gotoErr = errors.New("net::ERR_CONNECTION_REFUSED") })
		_, err := s.NavigateToURL(ctx, "http://127.0.0.1:1/")
		require.ErrorIs(t, err, api.ErrNavigation)
		assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
		assert.Equal(t, StateLaunched, s.State())

		b.handle.page.set(func(p *fakePage) { p.gotoErr = nil })
		res, err := s.NavigateToURL(ctx, "data:text/html,<p>hi</p>")
		require.NoError(t, err)
		assert.Equal(t, "data:text/html,<p>hi</p>", res.CurrentURL)
	})

	t.Run("timeout", func(t *testing.T) {
		b.handle.page.set(func(p *fakePage) { p.gotoErr = context.DeadlineExceeded })
		_, err := s.NavigateToURL(ctx, "http://127.0.0.1/slow")
		require.ErrorIs(t, err, api.ErrNavigation)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, StateLaunched, s.State())
		b.handle.page.set(func(p *fakePage) { p.gotoErr = nil })
	})
}

func TestSessionActionFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("timeout_keeps_session", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		require.NoError(t, s.LaunchBrowser(ctx))
		b.handle.page.set(func(p *fakePage) { p.clickErr = context.DeadlineExceeded })

		_, err := s.Click(ctx, "1,1")
		require.ErrorIs(t, err, api.ErrActionTimeout)
		assert.Equal(t, StateLaunched, s.State())
		assert.Zero(t, b.handle.teardowns.Load())
	})

	t.Run("dead_backend_closes_session", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		require.NoError(t, s.LaunchBrowser(ctx))
		b.handle.dead.Store(true)
		b.handle.page.set(func(p *fakePage) { p.clickErr = errors.New("websocket: close 1006") })

		_, err := s.Click(ctx, "1,1")
		require.ErrorIs(t, err, api.ErrBackend)
		assert.Equal(t, StateClosed, s.State())
		assert.EqualValues(t, 1, b.handle.teardowns.Load())
		assert.Empty(t, storageEntries(t, s))

		_, err = s.Type(ctx, "a")
		require.ErrorIs(t, err, api.ErrClosed)
	})

	t.Run("failed_probe_closes_session", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		require.NoError(t, s.LaunchBrowser(ctx))
		b.handle.pingErr = errors.New("no reply")
		b.handle.page.set(func(p *fakePage) { p.shotErr = errors.New("target crashed") })

		_, err := s.ScrollDown(ctx)
		require.ErrorIs(t, err, api.ErrBackend)
		assert.Contains(t, err.Error(), "capturing screenshot")
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("screenshot_failure_keeps_live_session", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		require.NoError(t, s.LaunchBrowser(ctx))
		b.handle.page.set(func(p *fakePage) { p.shotErr = errors.New("not supported") })

		_, err := s.Type(ctx, "a")
		require.ErrorIs(t, err, api.ErrBackend)
		assert.Equal(t, StateLaunched, s.State())
	})
}

func TestSessionLaunchFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("backend", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		b.launchErr = errors.New(`exec: "lightpanda": executable file not found in $PATH`)

		err := s.LaunchBrowser(ctx)
		require.ErrorIs(t, err, api.ErrLaunch)
		assert.Contains(t, err.Error(), "executable file not found")
		assert.Equal(t, StateUninitialized, s.State())
		assert.Empty(t, storageEntries(t, s))

		// a failed launch can be retried
		b.launchErr = nil
		require.NoError(t, s.LaunchBrowser(ctx))
		assert.Equal(t, StateLaunched, s.State())
		assert.Len(t, storageEntries(t, s), 1)
	})

	t.Run("open_page", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		b.openErr = errors.New("creating target")

		err := s.LaunchBrowser(ctx)
		require.ErrorIs(t, err, api.ErrLaunch)
		assert.Equal(t, StateUninitialized, s.State())
		assert.EqualValues(t, 1, b.handle.teardowns.Load())
		assert.Empty(t, storageEntries(t, s))
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestSession(t, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := s.LaunchBrowser(cctx)
		require.ErrorIs(t, err, api.ErrLaunch)
		assert.Equal(t, StateUninitialized, s.State())
	})

	t.Run("canceled_while_queued", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		b.launchBlock = make(chan struct{})

		errc := make(chan error, 1)
		go func() { errc <- s.LaunchBrowser(ctx) }()
		<-b.launched

		qctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := s.LaunchBrowser(qctx)
		require.ErrorIs(t, err, api.ErrLaunch)
		assert.NotErrorIs(t, err, api.ErrActionTimeout)

		close(b.launchBlock)
		require.NoError(t, <-errc)
		assert.Equal(t, StateLaunched, s.State())
	})
}

func TestSessionCloseUnderRunningCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("launch", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		b.launchBlock = make(chan struct{})

		errc := make(chan error, 1)
		go func() { errc <- s.LaunchBrowser(ctx) }()
		<-b.launched

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		s.CloseBrowser(cctx)
		assert.Equal(t, StateClosed, s.State())

		close(b.launchBlock)
		require.ErrorIs(t, <-errc, api.ErrClosed)
		assert.Equal(t, StateClosed, s.State())
		assert.EqualValues(t, 1, b.handle.teardowns.Load())
		assert.Empty(t, storageEntries(t, s))

		_, err := s.Click(ctx, "1,1")
		require.ErrorIs(t, err, api.ErrClosed)
	})

	t.Run("action", func(t *testing.T) {
		t.Parallel()

		s, b := newTestSession(t, nil)
		require.NoError(t, s.LaunchBrowser(ctx))
		block := make(chan struct{})
		page := b.handle.page
		page.set(func(p *fakePage) { p.block = block })

		errc := make(chan error, 1)
		go func() {
			_, err := s.Click(ctx, "5,5")
			errc <- err
		}()
		<-page.started

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		s.CloseBrowser(cctx)
		assert.Equal(t, StateClosed, s.State())
		assert.EqualValues(t, 1, b.handle.teardowns.Load())

		close(block)
		require.ErrorIs(t, <-errc, api.ErrClosed)
		assert.Equal(t, StateClosed, s.State())
	})
}

func TestSessionSettle(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		delay   time.Duration
		wantErr error
	}{
		{name: "default", delay: 0, wantErr: context.Canceled},
		{name: "set", delay: time.Hour, wantErr: context.Canceled},
		{name: "disabled", delay: -1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestSession(t, func(s *api.BrowserSettings) { s.SettleDelay = tt.delay })
			if tt.wantErr == nil {
				assert.NoError(t, s.settle(canceled))
				return
			}
			assert.ErrorIs(t, s.settle(canceled), tt.wantErr)
		})
	}
}

func TestSessionConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	launchBlocked := func(t *testing.T, reject bool) (*BrowserSession, *fakePage, chan struct{}) {
		t.Helper()

		s, b := newTestSession(t, func(s *api.BrowserSettings) { s.RejectConcurrent = reject })
		require.NoError(t, s.LaunchBrowser(ctx))

		block := make(chan struct{})
		page := b.handle.page
		page.set(func(p *fakePage) { p.block = block })
		return s, page, block
	}

	t.Run("reject", func(t *testing.T) {
		t.Parallel()

		s, page, block := launchBlocked(t, true)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Click(ctx, "5,5")
			assert.NoError(t, err)
		}()
		<-page.started

		_, err := s.Type(ctx, "a")
		require.ErrorIs(t, err, api.ErrBusy)

		close(block)
		wg.Wait()
		assert.Equal(t, []string{"5,5"}, page.clicks)
		assert.Empty(t, page.typed)
	})

	t.Run("queue", func(t *testing.T) {
		t.Parallel()

		s, page, block := launchBlocked(t, false)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Click(ctx, "5,5")
			assert.NoError(t, err)
		}()
		<-page.started
		go func() {
			defer wg.Done()
			res, err := s.Type(ctx, "queued")
			if assert.NoError(t, err) {
				assert.Equal(t, "5,5", res.CurrentMousePosition)
			}
		}()

		time.Sleep(50 * time.Millisecond)
		page.set(func(p *fakePage) { assert.Empty(t, p.typed) })

		close(block)
		wg.Wait()
		assert.Equal(t, []string{"queued"}, page.typed)
	})

	t.Run("queue_timeout", func(t *testing.T) {
		t.Parallel()

		s, page, block := launchBlocked(t, false)
		defer close(block)

		go func() { _, _ = s.Click(ctx, "5,5") }()
		<-page.started

		qctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := s.Type(qctx, "late")
		require.ErrorIs(t, err, api.ErrActionTimeout)
	})
}

func TestSessionLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.LaunchBrowser(ctx))

	_, err := s.NavigateToURL(ctx, "http://127.0.0.1/a")
	require.NoError(t, err)
	res, err := s.NavigateToURL(ctx, "http://127.0.0.1/b")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[log] loaded http://127.0.0.1/a",
		"[log] loaded http://127.0.0.1/b",
	}, res.LogLines())

	s.ClearLogs()
	res, err = s.Click(ctx, "1,2")
	require.NoError(t, err)
	assert.Equal(t, "[log] clicked 1,2", res.Logs)

	res, err = s.Type(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "[log] clicked 1,2", res.Logs)
}

func TestSessionTeardownFaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := metrics.New(prometheus.NewPedanticRegistry())
	require.NoError(t, err)

	s, b := newTestSession(t, nil, WithMetrics(m))
	b.handle.teardownErr = errors.New("process already exited")
	require.NoError(t, s.LaunchBrowser(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Active.WithLabelValues("lightpanda")))

	_, err = s.Click(ctx, "abc")
	require.Error(t, err)

	s.CloseBrowser(ctx)
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, storageEntries(t, s))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active.WithLabelValues("lightpanda")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TeardownFaults.WithLabelValues("lightpanda")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Launches.WithLabelValues("lightpanda", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("lightpanda", "click", metrics.OutcomeRejected)))
}

func TestSessionTracing(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := context.Background()
	s, b := newTestSession(t, nil, WithTracer(trace.NewTracer(log.NewNullLogger(), tp, nil)))
	page := b.handle.page
	require.NoError(t, s.LaunchBrowser(ctx))

	page.set(func(p *fakePage) { p.redirect = "http://127.0.0.1/landed" })
	_, err := s.NavigateToURL(ctx, "http://127.0.0.1/start")
	require.NoError(t, err)

	// a failed navigation keeps the live span of the loaded page
	page.set(func(p *fakePage) { p.gotoErr = errors.New("net::ERR_CONNECTION_REFUSED") })
	_, err = s.NavigateToURL(ctx, "http://127.0.0.1:1/")
	require.ErrorIs(t, err, api.ErrNavigation)
	page.set(func(p *fakePage) { p.gotoErr = nil })

	_, err = s.Click(ctx, "1,1")
	require.NoError(t, err)
	s.CloseBrowser(ctx)

	var names []string
	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	assert.ElementsMatch(t, []string{"launch", "navigate", "navigate", "navigation", "click"}, names)

	require.Len(t, byName["navigation"], 1)
	nav := byName["navigation"][0]
	assert.Contains(t, nav.Attributes(), attribute.String("url", "http://127.0.0.1/landed"))
	assert.Equal(t, nav.SpanContext().SpanID(), byName["click"][0].Parent().SpanID())
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*api.BrowserSettings)
		opts   func() []Option
		errMsg string
	}{
		{
			name:   "defaults",
			modify: func(s *api.BrowserSettings) { s.HeadlessBrowserType = "" },
		},
		{
			name:   "invalid_viewport",
			modify: func(s *api.BrowserSettings) { s.Viewport.Height = -1 },
			errMsg: "invalid viewport",
		},
		{
			name:   "no_storage",
			modify: func(s *api.BrowserSettings) { s.StoragePath = "" },
			errMsg: "storage path is required",
		},
		{
			name:   "backend_mismatch",
			modify: func(s *api.BrowserSettings) { s.HeadlessBrowserType = api.BackendPuppeteer },
			opts: func() []Option {
				return []Option{WithBackend(newFakeBackend(api.BackendLightpanda))}
			},
			errMsg: `backend "lightpanda" does not match headless browser type "puppeteer"`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := testSettings(t)
			tt.modify(&settings)
			var opts []Option
			if tt.opts != nil {
				opts = tt.opts()
			}

			s, err := New(settings, opts...)
			if tt.errMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, StateUninitialized, s.State())
				assert.Equal(t, api.BackendPuppeteer, s.BackendKind())
				return
			}
			require.ErrorIs(t, err, api.ErrInvalidSettings)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	b, err := NewBackend(api.BackendPuppeteer)
	require.NoError(t, err)
	assert.IsType(t, &chromium.BrowserType{}, b)

	b, err = NewBackend(api.BackendLightpanda)
	require.NoError(t, err)
	assert.IsType(t, &lightpanda.BrowserType{}, b)

	_, err = NewBackend("webkit")
	require.ErrorIs(t, err, api.ErrInvalidSettings)
}
