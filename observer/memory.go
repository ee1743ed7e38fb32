package observer

import (
	"context"
	"time"

	"github.com/nevindra/pgagent"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedMemory wraps a pgagent.MemoryGateway with OTEL instrumentation.
// Only the calls on the turn path are traced; the rest delegate directly.
type ObservedMemory struct {
	pgagent.MemoryGateway
	inst *Instruments
}

var _ pgagent.MemoryGateway = (*ObservedMemory)(nil)

// WrapMemory returns an instrumented memory gateway.
func WrapMemory(inner pgagent.MemoryGateway, inst *Instruments) *ObservedMemory {
	return &ObservedMemory{MemoryGateway: inner, inst: inst}
}

func (o *ObservedMemory) GetAllSettings(ctx context.Context) (pgagent.Settings, error) {
	var s pgagent.Settings
	err := o.observe(ctx, "get_all_settings", func(ctx context.Context) (int, error) {
		var err error
		s, err = o.MemoryGateway.GetAllSettings(ctx)
		return len(s), err
	})
	return s, err
}

func (o *ObservedMemory) Store(ctx context.Context, m pgagent.NewMemory) (string, error) {
	var id string
	err := o.observe(ctx, "store", func(ctx context.Context) (int, error) {
		var err error
		id, err = o.MemoryGateway.Store(ctx, m)
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	return id, err
}

func (o *ObservedMemory) HybridSearch(ctx context.Context, query string, embedding []float32, limit int, minSimilarity float64) ([]pgagent.RetrievedMemory, error) {
	var out []pgagent.RetrievedMemory
	err := o.observe(ctx, "hybrid_search", func(ctx context.Context) (int, error) {
		var err error
		out, err = o.MemoryGateway.HybridSearch(ctx, query, embedding, limit, minSimilarity)
		return len(out), err
	})
	return out, err
}

func (o *ObservedMemory) FullTextSearch(ctx context.Context, query string, limit int) ([]pgagent.RetrievedMemory, error) {
	var out []pgagent.RetrievedMemory
	err := o.observe(ctx, "full_text_search", func(ctx context.Context) (int, error) {
		var err error
		out, err = o.MemoryGateway.FullTextSearch(ctx, query, limit)
		return len(out), err
	})
	return out, err
}

func (o *ObservedMemory) ShouldCapture(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := o.observe(ctx, "should_capture", func(ctx context.Context) (int, error) {
		var err error
		ok, err = o.MemoryGateway.ShouldCapture(ctx, text)
		if ok {
			return 1, err
		}
		return 0, err
	})
	return ok, err
}

// observe runs call inside a "memory.<op>" span. call returns the number of
// results to record on the span.
func (o *ObservedMemory) observe(ctx context.Context, op string, call func(context.Context) (int, error)) error {
	ctx, span := o.inst.Tracer.Start(ctx, "memory."+op, trace.WithAttributes(
		AttrMemoryOp.String(op),
	))
	defer span.End()
	start := time.Now()

	n, err := call(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrMemoryStatus.String(status),
		AttrMemoryResults.Int(n),
	)

	o.inst.MemoryOps.Add(ctx, 1, metric.WithAttributes(
		AttrMemoryOp.String(op),
		attribute.String("status", status),
	))
	o.inst.MemoryDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrMemoryOp.String(op),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityDebug)
	rec.SetBody(otellog.StringValue("memory operation"))
	rec.AddAttributes(
		otellog.String("memory.op", op),
		otellog.String("memory.status", status),
		otellog.Int("memory.results", n),
		otellog.Float64("memory.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)
	return err
}
