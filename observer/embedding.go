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

// ObservedEmbedder wraps a pgagent.Embedder with OTEL instrumentation. It
// always offers EmbedBatch, falling back to sequential Embed calls when the
// wrapped embedder has no native batch.
type ObservedEmbedder struct {
	inner pgagent.Embedder
	inst  *Instruments
}

var _ pgagent.BatchEmbedder = (*ObservedEmbedder)(nil)

// WrapEmbedder returns an instrumented embedder.
func WrapEmbedder(inner pgagent.Embedder, inst *Instruments) *ObservedEmbedder {
	return &ObservedEmbedder{inner: inner, inst: inst}
}

func (o *ObservedEmbedder) Name() string { return o.inner.Name() }

func (o *ObservedEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	var vec []float32
	err := o.observe(ctx, "llm.embed", model, 1, func(ctx context.Context) (int, error) {
		var err error
		vec, err = o.inner.Embed(ctx, model, text)
		return len(vec), err
	})
	return vec, err
}

func (o *ObservedEmbedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := o.observe(ctx, "llm.embed_batch", model, len(texts), func(ctx context.Context) (int, error) {
		var err error
		if be, ok := o.inner.(pgagent.BatchEmbedder); ok {
			vecs, err = be.EmbedBatch(ctx, model, texts)
		} else {
			vecs = make([][]float32, len(texts))
			for i, t := range texts {
				if vecs[i], err = o.inner.Embed(ctx, model, t); err != nil {
					vecs = nil
					break
				}
			}
		}
		if len(vecs) > 0 {
			return len(vecs[0]), err
		}
		return 0, err
	})
	return vecs, err
}

// observe runs call inside a span and records request metrics. call returns
// the vector dimension.
func (o *ObservedEmbedder) observe(ctx context.Context, spanName, model string, count int, call func(context.Context) (int, error)) error {
	ctx, span := o.inst.Tracer.Start(ctx, spanName, trace.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrEmbedTextCount.Int(count),
	))
	defer span.End()
	start := time.Now()

	dims, err := call(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrEmbedDimensions.Int(dims))

	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.EmbedDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("llm.embed.text_count", count),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
	return err
}
