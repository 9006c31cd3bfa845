package telemetry

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

const odataScopeName = "github.com/dynamicsmcp/fomcp/odata"

// InstrumentedClient wraps odata.Client with OTel tracing and metrics.
// Every request gets a span and is counted in fomcp.odata.* metrics. Use
// WrapClient to create one; it returns the original client unchanged when
// telemetry is disabled.
type InstrumentedClient struct {
	inner  odata.Client
	tracer trace.Tracer
	reqs   metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapClient returns c decorated with OTel instrumentation.
// When telemetry is disabled, c is returned as-is with zero overhead.
func WrapClient(c odata.Client) odata.Client {
	if !Enabled() {
		return c
	}
	m := Meter(odataScopeName)
	reqs, _ := m.Int64Counter("fomcp.odata.requests",
		metric.WithDescription("Total OData requests sent"),
	)
	dur, _ := m.Float64Histogram("fomcp.odata.request.duration",
		metric.WithDescription("OData request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("fomcp.odata.errors",
		metric.WithDescription("Total OData request errors, by error kind"),
	)
	return &InstrumentedClient{
		inner:  c,
		tracer: Tracer(odataScopeName),
		reqs:   reqs,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and counts the request.
func (c *InstrumentedClient) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("odata.operation", name)}, attrs...)
	ctx, span := c.tracer.Start(ctx, "odata."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	c.reqs.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error with its kind.
func (c *InstrumentedClient) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	c.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kindAttrs := append(attrs, attribute.String("error.kind", string(types.KindOf(err))))
		c.errs.Add(ctx, 1, metric.WithAttributes(kindAttrs...))
	}
	span.End()
}

func (c *InstrumentedClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	attrs := []attribute.KeyValue{attribute.String("odata.path", path)}
	ctx, span, t := c.op(ctx, "Get", attrs...)
	v, err := c.inner.Get(ctx, path, query)
	if err == nil {
		span.SetAttributes(attribute.Int("odata.response.bytes", len(v)))
	}
	c.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) Post(ctx context.Context, path string, body any) ([]byte, error) {
	attrs := []attribute.KeyValue{attribute.String("odata.path", path)}
	ctx, span, t := c.op(ctx, "Post", attrs...)
	v, err := c.inner.Post(ctx, path, body)
	c.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) CallAction(ctx context.Context, entitySet, actionName string, params any) ([]byte, error) {
	attrs := []attribute.KeyValue{
		attribute.String("odata.entity_set", entitySet),
		attribute.String("odata.action", actionName),
	}
	ctx, span, t := c.op(ctx, "CallAction", attrs...)
	v, err := c.inner.CallAction(ctx, entitySet, actionName, params)
	c.done(ctx, span, t, err, attrs...)
	return v, err
}

func (c *InstrumentedClient) BaseURL() string {
	return c.inner.BaseURL()
}
