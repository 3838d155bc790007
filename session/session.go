// Package session drives a headless browser through one of the automation
// backends and exposes the same set of actions for all of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/common"
	"github.com/grafana/browser-session/log"
	"github.com/grafana/browser-session/metrics"
	"github.com/grafana/browser-session/storage"
	"github.com/grafana/browser-session/trace"
)

const (
	opLaunch   = "launch"
	opNavigate = "navigate"

	// probeTimeout bounds the liveness probe run after a failed action.
	probeTimeout = 2 * time.Second
	// teardownTimeout bounds closing a session.
	teardownTimeout = 10 * time.Second
)

var errMalformedURL = errors.New("malformed URL")

// BrowserSession drives one page of one backend browser. Actions are
// serialized: at most one runs at a time.
type BrowserSession struct {
	id       string
	settings api.BrowserSettings
	backend  api.Backend

	logger  *log.Logger
	metrics *metrics.Metrics
	tracer  *trace.Tracer

	sem *semaphore.Weighted

	mu       sync.Mutex
	state    State
	handle   api.BrowserHandle
	page     api.Page
	stack    releaseStack
	logs     []string
	mousePos string
}

// New returns an uninitialized session for settings. Unset settings get
// their defaults. It fails with api.ErrInvalidSettings if the settings are
// unusable.
func New(settings api.BrowserSettings, opts ...Option) (*BrowserSession, error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &BrowserSession{
		id:       uuid.NewString(),
		settings: settings,
		sem:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		b, err := NewBackend(settings.HeadlessBrowserType)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}
	if k := s.backend.Kind(); k != settings.HeadlessBrowserType {
		return nil, fmt.Errorf("%w: backend %q does not match headless browser type %q",
			api.ErrInvalidSettings, k, settings.HeadlessBrowserType)
	}

	if s.logger == nil {
		s.logger = log.NewNullLogger()
	}
	s.logger = s.logger.WithField("sid", s.id)
	if s.tracer == nil {
		s.tracer = trace.NewTracer(s.logger, nil, nil)
	}

	return s, nil
}

// ID returns the unique ID of the session.
func (s *BrowserSession) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *BrowserSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BackendKind returns the kind of the backend, which never changes.
func (s *BrowserSession) BackendKind() api.BackendKind {
	return s.backend.Kind()
}

// ClearLogs forgets the console lines collected so far.
func (s *BrowserSession) ClearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		s.page.DrainConsoleLogs()
	}
	s.logs = nil
}

// LaunchBrowser starts the backend and opens the page of the session. It
// does nothing if the session is already launched. On failure every
// resource acquired so far is released and the session stays
// uninitialized.
func (s *BrowserSession) LaunchBrowser(ctx context.Context) (err error) {
	const op = opLaunch

	release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	switch s.State() {
	case StateLaunched:
		s.logger.Debugf("BrowserSession:LaunchBrowser", "already launched")
		return nil
	case StateClosed:
		return api.NewActionError(api.ReasonClosed, "%s: session is closed", op)
	}

	start := time.Now()
	ctx, span := s.tracer.TraceAPICall(ctx, s.id, op)
	defer func() {
		trace.EndWithError(span, err)
		s.metrics.ObserveLaunch(s.backend.Kind(), err)
		s.metrics.ObserveAction(s.backend.Kind(), op, time.Since(start), err)
	}()

	return s.launch(ctx)
}

func (s *BrowserSession) launch(ctx context.Context) (err error) {
	const op = opLaunch
	kind := s.backend.Kind()

	var stack releaseStack
	defer func() {
		if err != nil {
			stack.unwind(context.WithoutCancel(ctx), s.logger)
		}
	}()

	dir, err := storage.MakeDir(s.settings.StoragePath, string(kind))
	if err != nil {
		return api.NewError(api.ErrLaunch, kind, op, err)
	}
	stack.push("storage directory", func(context.Context) error { return dir.Cleanup() })
	s.logger.Debugf("BrowserSession:launch", "backend:%q dir:%q", kind, dir.Dir)

	lctx, cancel := context.WithTimeout(ctx, s.settings.LaunchTimeout)
	defer cancel()

	handle, err := s.backend.Launch(lctx, api.LaunchOptions{
		Settings:  s.settings,
		DataDir:   dir.Dir,
		SessionID: s.id,
		Logger:    s.logger,
	})
	if err != nil {
		return s.wrap(api.ErrLaunch, op, err)
	}
	stack.push("browser", handle.Teardown)

	page, err := handle.OpenPage(lctx)
	if err != nil {
		return s.wrap(api.ErrLaunch, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// CloseBrowser gives up waiting for a slow launch and closes the
	// session under it. The browser is then released here.
	if s.state == StateClosed {
		return api.NewActionError(api.ReasonClosed, "%s: session was closed while launching", op)
	}
	s.handle, s.page, s.stack = handle, page, stack
	s.state = StateLaunched
	s.logger.Infof("BrowserSession:launch", "launched %s browser", kind)

	return nil
}

// NavigateToURL navigates the page to rawURL and waits for it to load and
// go idle. A navigation failure leaves the session launched.
func (s *BrowserSession) NavigateToURL(ctx context.Context, rawURL string) (*api.ActionResult, error) {
	return s.do(ctx, opNavigate, func(ctx context.Context, page api.Page) error {
		if err := validateURL(rawURL); err != nil {
			return api.NewError(api.ErrNavigation, s.backend.Kind(), opNavigate, err)
		}

		nctx, cancel := context.WithTimeout(ctx, s.settings.NavigationTimeout)
		defer cancel()
		if err := page.Goto(nctx, rawURL); err != nil {
			return err
		}

		// Only a loaded document replaces the live span, under its final
		// URL.
		landed, err := page.CurrentURL(nctx)
		if err != nil {
			landed = rawURL
		}
		s.tracer.TraceNavigation(ctx, s.id, landed)

		return nil
	})
}

// Click clicks the left mouse button at coordinate, given as "x,y". The
// result reports coordinate verbatim as the mouse position.
func (s *BrowserSession) Click(ctx context.Context, coordinate string) (*api.ActionResult, error) {
	return s.do(ctx, "click", func(ctx context.Context, page api.Page) error {
		x, y, err := ParseCoordinate(coordinate)
		if err != nil {
			return err
		}

		actx, cancel := context.WithTimeout(ctx, s.settings.ActionTimeout)
		defer cancel()
		if err := page.PointerClick(actx, x, y); err != nil {
			return err
		}

		s.mu.Lock()
		s.mousePos = coordinate
		s.mu.Unlock()

		return s.settle(ctx)
	})
}

// Type sends the key events of every character of text to the focused
// element of the page.
func (s *BrowserSession) Type(ctx context.Context, text string) (*api.ActionResult, error) {
	return s.do(ctx, "type", func(ctx context.Context, page api.Page) error {
		actx, cancel := context.WithTimeout(ctx, s.settings.ActionTimeout)
		defer cancel()
		if err := page.KeyboardType(actx, text); err != nil {
			return err
		}

		return s.settle(ctx)
	})
}

// ScrollDown scrolls the page down by one viewport height.
func (s *BrowserSession) ScrollDown(ctx context.Context) (*api.ActionResult, error) {
	return s.scroll(ctx, "scroll_down", s.settings.Viewport.Height)
}

// ScrollUp scrolls the page up by one viewport height.
func (s *BrowserSession) ScrollUp(ctx context.Context) (*api.ActionResult, error) {
	return s.scroll(ctx, "scroll_up", -s.settings.Viewport.Height)
}

func (s *BrowserSession) scroll(ctx context.Context, op string, dy int64) (*api.ActionResult, error) {
	return s.do(ctx, op, func(ctx context.Context, page api.Page) error {
		actx, cancel := context.WithTimeout(ctx, s.settings.ActionTimeout)
		defer cancel()
		if err := page.ScrollBy(actx, 0, dy); err != nil {
			return err
		}

		return s.settle(ctx)
	})
}

// CloseBrowser releases the page, the backend and the storage of the
// session. It always leaves the session closed: teardown faults are logged
// and never returned. Calling it again does nothing.
func (s *BrowserSession) CloseBrowser(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()

	// Closing never gives up: if the running action does not finish in
	// time the session is torn down under it.
	if err := s.sem.Acquire(qctx, 1); err != nil {
		s.logger.Warnf("BrowserSession:CloseBrowser", "closing while an action is running: %v", err)
	} else {
		defer s.sem.Release(1)
	}

	s.close(ctx, "closed by caller")
}

func (s *BrowserSession) close(ctx context.Context, reason string) {
	s.mu.Lock()
	prev := s.state
	stack := s.stack
	s.state, s.stack = StateClosed, nil
	s.handle, s.page = nil, nil
	s.mu.Unlock()

	if prev == StateClosed {
		return
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	faults := stack.unwind(tctx, s.logger)
	s.tracer.EndSession(s.id)

	if prev == StateLaunched {
		s.metrics.ObserveClose(s.backend.Kind(), faults)
	}
	s.logger.Infof("BrowserSession:close", "session closed: %s, %d teardown faults", reason, faults)
}

// acquire waits for the running action to finish, or fails right away if
// the session rejects concurrent calls.
func (s *BrowserSession) acquire(ctx context.Context, op string) (func(), error) {
	if s.settings.RejectConcurrent {
		if !s.sem.TryAcquire(1) {
			return nil, api.NewActionError(api.ReasonBusy, "%s: another action is in progress", op)
		}
	} else if err := s.sem.Acquire(ctx, 1); err != nil {
		kind := api.ErrActionTimeout
		switch op {
		case opLaunch:
			kind = api.ErrLaunch
		case opNavigate:
			kind = api.ErrNavigation
		}
		return nil, api.NewError(kind, s.backend.Kind(), op,
			fmt.Errorf("waiting for the running action: %w", err))
	}

	return func() { s.sem.Release(1) }, nil
}

// do runs an action on the page and assembles its result.
func (s *BrowserSession) do(
	ctx context.Context, op string, action func(context.Context, api.Page) error,
) (_ *api.ActionResult, err error) {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := s.launchedPage(op)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := s.tracer.TraceAPICall(ctx, s.id, op)
	defer func() {
		trace.EndWithError(span, err)
		s.metrics.ObserveAction(s.backend.Kind(), op, time.Since(start), err)
	}()

	timeoutKind, failKind := api.ErrActionTimeout, api.ErrBackend
	if op == opNavigate {
		timeoutKind, failKind = api.ErrNavigation, api.ErrNavigation
	}

	if err := action(ctx, page); err != nil {
		return nil, s.fail(ctx, op, timeoutKind, failKind, err)
	}

	res, err := s.result(ctx, page)
	if err != nil {
		return nil, s.fail(ctx, op, api.ErrActionTimeout, api.ErrBackend, err)
	}
	// the session may have been closed under a slow action
	if _, err := s.launchedPage(op); err != nil {
		return nil, err
	}

	return res, nil
}

func (s *BrowserSession) launchedPage(op string) (api.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return nil, api.NewActionError(api.ReasonNotLaunched, "%s: browser is not launched", op)
	case StateClosed:
		return nil, api.NewActionError(api.ReasonClosed, "%s: session is closed", op)
	}
	return s.page, nil
}

// fail classifies the error of a failed action and closes the session if
// the backend stopped responding.
func (s *BrowserSession) fail(ctx context.Context, op string, timeoutKind, failKind error, err error) error {
	var aerr *api.ActionError
	if errors.As(err, &aerr) || errors.Is(err, errMalformedURL) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = s.wrap(timeoutKind, op, err)
	} else {
		err = s.wrap(failKind, op, err)
	}
	s.logger.Debugf("BrowserSession:"+op, "failed: %v", err)

	if reason := s.unresponsive(ctx); reason != "" {
		s.logger.Errorf("BrowserSession:"+op, "backend is unresponsive, closing the session: %s", reason)
		s.close(ctx, reason)
	}

	return err
}

// unresponsive returns why the backend can no longer be used, or an empty
// string if it still answers.
func (s *BrowserSession) unresponsive(ctx context.Context) string {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return ""
	}

	if !handle.Alive() {
		return "backend connection lost"
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()
	if err := handle.Ping(pctx); err != nil {
		return fmt.Sprintf("backend did not answer a liveness probe: %v", err)
	}

	return ""
}

// wrap types err as kind unless the backend already typed it.
func (s *BrowserSession) wrap(kind error, op string, err error) error {
	var typed *api.Error
	if errors.As(err, &typed) {
		return err
	}
	return api.NewError(kind, s.backend.Kind(), op, err)
}

// settle gives the page time to react to input before it is captured. A
// negative delay disables it.
func (s *BrowserSession) settle(ctx context.Context) error {
	if s.settings.SettleDelay <= 0 {
		return nil
	}

	t := time.NewTimer(s.settings.SettleDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// result captures the state of the page after an action.
func (s *BrowserSession) result(ctx context.Context, page api.Page) (*api.ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.ActionTimeout)
	defer cancel()

	img, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	screenshot, err := common.DataURL(img, s.settings.ScreenshotFormat.MIMEType())
	if err != nil {
		return nil, err
	}

	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting current URL: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, page.DrainConsoleLogs()...)

	return &api.ActionResult{
		Screenshot:           screenshot,
		Logs:                 strings.Join(s.logs, "\n"),
		CurrentURL:           currentURL,
		CurrentMousePosition: s.mousePos,
	}, nil
}

// validateURL accepts absolute URLs with a host, and about:, data: and
// file: URLs.
func validateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w %q: %w", errMalformedURL, rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return fmt.Errorf("%w %q: missing scheme", errMalformedURL, rawURL)
	case "about", "data", "file":
		return nil
	}
	if u.Host == "" {
		return fmt.Errorf("%w %q: missing host", errMalformedURL, rawURL)
	}

	return nil
}
