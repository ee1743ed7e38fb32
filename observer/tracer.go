package observer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nevindra/pgagent"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns the orchestrator's turn tracer on the global provider
// installed by Init. Before Init it records nothing.
func NewTracer() pgagent.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

type otelTracer struct {
	inner trace.Tracer
}

type otelSpan struct {
	inner trace.Span
}

var (
	_ pgagent.Tracer = (*otelTracer)(nil)
	_ pgagent.Span   = (*otelSpan)(nil)
)

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...pgagent.SpanAttr) (context.Context, pgagent.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(spanAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

func (s *otelSpan) SetAttr(attrs ...pgagent.SpanAttr) { s.inner.SetAttributes(spanAttrs(attrs)...) }

func (s *otelSpan) Event(name string, attrs ...pgagent.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(spanAttrs(attrs)...))
}

// Error marks the turn failed. Provider failures also carry the provider
// name and HTTP status so failed turns can be grouped by backend.
func (s *otelSpan) Error(err error) {
	if err == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.Bool("error.recoverable", pgagent.IsRecoverable(err))}
	var pc *pgagent.ErrProviderCall
	if errors.As(err, &pc) {
		attrs = append(attrs,
			AttrLLMProvider.String(pc.Provider),
			attribute.Int("http.status_code", pc.Status))
	}
	s.inner.RecordError(err, trace.WithAttributes(attrs...))
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.inner.End() }

func spanAttrs(attrs []pgagent.SpanAttr) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, toOTELAttr(a))
	}
	return out
}

// toOTELAttr maps the scalar kinds the orchestrator emits; anything else is
// recorded as its %v text.
func toOTELAttr(a pgagent.SpanAttr) attribute.KeyValue {
	k := attribute.Key(a.Key)
	switch v := a.Value.(type) {
	case string:
		return k.String(v)
	case bool:
		return k.Bool(v)
	case int:
		return k.Int(v)
	case int64:
		return k.Int64(v)
	case float32:
		return k.Float64(float64(v))
	case float64:
		return k.Float64(v)
	case []string:
		return k.StringSlice(v)
	case error:
		return k.String(v.Error())
	default:
		return k.String(fmt.Sprint(v))
	}
}
