package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type spanKey struct{}

// Span measures one named section of work. End records the duration and logs
// it when tracing is enabled.
type Span struct {
	t     *Telemetry
	name  string
	start time.Time
	attrs []slog.Attr
}

// StartSpan opens a span and attaches it to the context.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{
		t:     t,
		name:  name,
		start: time.Now(),
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// SpanFromContext returns the span attached to ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// SetAttribute adds a key-value pair logged when the span ends.
func (s *Span) SetAttribute(key string, value any) {
	if s == nil {
		return
	}
	s.attrs = append(s.attrs, slog.Any(key, value))
}

// End closes the span.
func (s *Span) End() {
	if s == nil || s.t == nil {
		return
	}
	elapsed := time.Since(s.start)
	s.t.spanDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())
	if s.t.tracing {
		attrs := append([]slog.Attr{
			slog.String("span", s.name),
			slog.Duration("elapsed", elapsed),
		}, s.attrs...)
		slog.LogAttrs(context.Background(), slog.LevelDebug, "span completed", attrs...)
	}
}
