// Package trace provides tracing instrumentation for browser sessions.
package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/grafana/browser-session/log"
)

const tracerName = "browser.session"

// liveSpan is the navigation span actions of a session are parented to.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for session actions. Every session has at most one
// live navigation span, and action spans are started as its children so that
// everything done on a page ends up in the same trace.
type Tracer struct {
	logger *log.Logger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.Mutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider. A nil
// provider yields a tracer that records nothing.
func NewTracer(
	logger *log.Logger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption,
) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns the trace id of spanCtx, or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceAPICall starts a span for an action of the session sessionID. The
// span is a child of the live navigation span of the session if there is
// one, and of ctx otherwise. It is the caller's responsibility to end it.
func (t *Tracer) TraceAPICall(
	ctx context.Context, sessionID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[sessionID]
	if ls == nil {
		t.logger.Debugf("trace:TraceAPICall", "no live span spanName: %q sid: %q", spanName, sessionID)
		_, span := t.Start(ctx, spanName, opts...)

		return trace.ContextWithSpan(ctx, span), &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
	}

	traceID := GetTraceID(trace.SpanContextFromContext(ls.ctx))
	t.logger.Debugf("trace:TraceAPICall", "spanName: %q traceID: %q sid: %q", spanName, traceID, sessionID)
	_, span := t.Start(ls.ctx, spanName, opts...)

	return trace.ContextWithSpan(ctx, span), &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
}

// TraceNavigation records a new live navigation span for sessionID and ends
// the previous one. The returned span stays live until the next navigation
// or until EndSession is called.
func (t *Tracer) TraceNavigation(
	ctx context.Context, sessionID string, url string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[sessionID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	opts = append(opts, trace.WithAttributes(attribute.String("url", url)))

	spanName := "navigation"
	ls.ctx, ls.span = t.Start(context.WithoutCancel(ctx), spanName, opts...)
	t.liveSpans[sessionID] = ls

	traceID := GetTraceID(trace.SpanContextFromContext(ls.ctx))
	t.logger.Debugf("trace:TraceNavigation", "spanName: %q traceID: %q sid: %q", spanName, traceID, sessionID)

	return trace.ContextWithSpan(ctx, ls.span), &SpanLogger{Span: ls.span, logger: t.logger, spanName: spanName}
}

// EndSession ends the live navigation span of sessionID, if any.
func (t *Tracer) EndSession(sessionID string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[sessionID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, sessionID)
	}
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   *log.Logger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:SetStatus", "spanName: %q traceID: %q code: %q description: %q", i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:End", "spanName: %q traceID: %q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:RecordError", "spanName: %q traceID: %q err: %q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}

// EndWithError ends span, marking it as failed when err is not nil.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
