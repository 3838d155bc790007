package session

import (
	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/log"
	"github.com/grafana/browser-session/metrics"
	"github.com/grafana/browser-session/trace"
)

// Option configures a BrowserSession.
type Option func(*BrowserSession)

// WithLogger sets the logger of the session.
func WithLogger(l *log.Logger) Option {
	return func(s *BrowserSession) {
		s.logger = l
	}
}

// WithMetrics makes the session report to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BrowserSession) {
		s.metrics = m
	}
}

// WithTracer makes the session trace its actions with t.
func WithTracer(t *trace.Tracer) Option {
	return func(s *BrowserSession) {
		s.tracer = t
	}
}

// WithBackend replaces the backend selected from the settings. Its kind
// must match the configured headless browser type.
func WithBackend(b api.Backend) Option {
	return func(s *BrowserSession) {
		s.backend = b
	}
}
