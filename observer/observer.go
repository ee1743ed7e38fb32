// Package observer provides OpenTelemetry instrumentation for pgagent.
//
// It wraps chat providers, embedders and the memory gateway with versions
// that emit traces, metrics and logs, and supplies a pgagent.Tracer for
// per-turn spans. Export goes to any OTLP backend configured through the
// standard OTEL_* environment variables.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/pgagent/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	TokenUsage    metric.Int64Counter
	CostTotal     metric.Float64Counter
	LLMRequests   metric.Int64Counter
	EmbedRequests metric.Int64Counter
	MemoryOps     metric.Int64Counter

	// Histograms
	LLMDuration    metric.Float64Histogram
	EmbedDuration  metric.Float64Histogram
	MemoryDuration metric.Float64Histogram

	Cost *CostCalculator
}

// Init installs global trace, metric and log providers that export over
// OTLP/HTTP, configured from the OTEL_* environment. The returned func
// flushes and stops all three; call it once on exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("pgagent")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Instruments, func(context.Context) error, error) {
		_ = shutdown(ctx)
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	stops = append(stops, tp.Shutdown)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	stops = append(stops, mp.Shutdown)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		return fail(err)
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	global.SetLoggerProvider(lp)
	stops = append(stops, lp.Shutdown)

	inst, err := newInstruments(pricing)
	if err != nil {
		return fail(err)
	}
	return inst, shutdown, nil
}

// newInstruments builds the instrument set from whatever providers are
// currently global. Creation errors are joined and reported together.
func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  meter,
		Logger: global.GetLoggerProvider().Logger(scopeName),
		Cost:   NewCostCalculator(pricing),
	}

	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		errs = append(errs, err)
		return h
	}

	inst.TokenUsage = counter("llm.token.usage", "Tokens consumed by chat calls", "{token}")
	inst.LLMRequests = counter("llm.requests", "Chat completion calls", "{request}")
	inst.EmbedRequests = counter("embedding.requests", "Embedding calls", "{request}")
	inst.MemoryOps = counter("memory.operations", "Memory gateway calls", "{operation}")
	inst.LLMDuration = histogram("llm.duration", "Chat completion latency")
	inst.EmbedDuration = histogram("embedding.duration", "Embedding latency")
	inst.MemoryDuration = histogram("memory.duration", "Memory gateway latency")

	cost, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Estimated chat spend"), metric.WithUnit("USD"))
	errs = append(errs, err)
	inst.CostTotal = cost

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return inst, nil
}
