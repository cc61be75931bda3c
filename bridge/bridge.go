// Package bridge carries an OpenTelemetry trace context across transports that do not
// understand tracing. HTTP headers and message attributes are both treated as plain
// string-keyed carriers, so a context extracted from an inbound request can be injected
// into a queue message and resumed by a consumer in another process.
//
// A carrier without a recognizable context is not an error: Extract reports false and
// callers continue without a parent.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "pubsubtrace/bridge"

	// googclientPrefix is used by the Go Pub/Sub client when its own tracing injects
	// context into message attributes.
	googclientPrefix = "googclient_"
)

type Option func(*Bridge)

// WithPropagator overrides the propagator, otel.GetTextMapPropagator() by default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(b *Bridge) {
		if p != nil {
			b.propagator = p
		}
	}
}

// WithTracerProvider sets the provider used by WithContext to start spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) {
		if tp != nil {
			b.tracerProvider = tp
		}
	}
}

// WithGoogClientExtraction makes Extract fall back to googclient_-prefixed keys when
// the standard keys carry no context.
func WithGoogClientExtraction(enabled bool) Option {
	return func(b *Bridge) {
		b.googClient = enabled
	}
}

type Bridge struct {
	propagator     propagation.TextMapPropagator
	tracerProvider trace.TracerProvider
	googClient     bool
}

func New(opts ...Option) *Bridge {
	b := &Bridge{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Bridge) textMapPropagator() propagation.TextMapPropagator {
	if b.propagator != nil {
		return b.propagator
	}
	return otel.GetTextMapPropagator()
}

func (b *Bridge) tracer() trace.Tracer {
	if b.tracerProvider != nil {
		return b.tracerProvider.Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span with the bridge's tracer.
func (b *Bridge) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return b.tracer().Start(ctx, name, opts...)
}

// Fields lists the carrier keys the bridge may write.
func (b *Bridge) Fields() []string {
	return b.textMapPropagator().Fields()
}

// Extract returns ctx carrying the remote span context found in carrier and true, or
// ctx unchanged and false when the carrier holds no valid context.
func (b *Bridge) Extract(ctx context.Context, carrier propagation.TextMapCarrier) (context.Context, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if carrier == nil || len(carrier.Keys()) == 0 {
		return ctx, false
	}

	// Check against an empty context so a span already on ctx is not mistaken for one
	// found in the carrier.
	p := b.textMapPropagator()
	if trace.SpanContextFromContext(p.Extract(context.Background(), carrier)).IsValid() {
		return p.Extract(ctx, carrier), true
	}

	if b.googClient {
		prefixed := prefixedCarrier{inner: carrier, prefix: googclientPrefix}
		tc := propagation.TraceContext{}
		if trace.SpanContextFromContext(tc.Extract(context.Background(), prefixed)).IsValid() {
			return tc.Extract(ctx, prefixed), true
		}
	}
	return ctx, false
}

// HasContext reports whether carrier holds an extractable trace context.
func (b *Bridge) HasContext(carrier propagation.TextMapCarrier) bool {
	_, ok := b.Extract(context.Background(), carrier)
	return ok
}

// Inject writes the trace context active on ctx into carrier. Only the propagator's
// fields are written, so other keys are left untouched and repeated calls with the
// same ctx leave the carrier unchanged. Nothing is written when ctx has no valid span
// context.
func (b *Bridge) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if ctx == nil || carrier == nil {
		return
	}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}
	b.textMapPropagator().Inject(ctx, carrier)
}

// InjectAttributes injects into a message attribute map, allocating it only when a
// key is written.
func (b *Bridge) InjectAttributes(ctx context.Context, attrs map[string]string) map[string]string {
	b.Inject(ctx, lazyCarrier{attrs: &attrs})
	return attrs
}

func (b *Bridge) ExtractAttributes(ctx context.Context, attrs map[string]string) (context.Context, bool) {
	if len(attrs) == 0 {
		if ctx == nil {
			ctx = context.Background()
		}
		return ctx, false
	}
	return b.Extract(ctx, propagation.MapCarrier(attrs))
}

// WithContext resumes the trace found in carrier and runs op inside a span named name.
// The span is ended exactly once, also when op returns an error or panics; a panic is
// recorded and re-raised. When carrier holds no context op runs with ctx and no span
// is started.
func (b *Bridge) WithContext(ctx context.Context, carrier propagation.TextMapCarrier, name string, op func(context.Context) error, opts ...trace.SpanStartOption) (err error) {
	parent, ok := b.Extract(ctx, carrier)
	if !ok {
		return op(parent)
	}

	spanCtx, span := b.StartSpan(parent, name, opts...)
	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
			span.End()
			panic(r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return op(spanCtx)
}

// lazyCarrier writes into *attrs, creating the map on first Set.
type lazyCarrier struct {
	attrs *map[string]string
}

func (c lazyCarrier) Get(key string) string {
	if *c.attrs == nil {
		return ""
	}
	return (*c.attrs)[key]
}

func (c lazyCarrier) Set(key, value string) {
	if *c.attrs == nil {
		*c.attrs = make(map[string]string)
	}
	(*c.attrs)[key] = value
}

func (c lazyCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.attrs))
	for k := range *c.attrs {
		keys = append(keys, k)
	}
	return keys
}

// prefixedCarrier reads keys under a fixed prefix, lower-casing like the Pub/Sub client.
type prefixedCarrier struct {
	inner  propagation.TextMapCarrier
	prefix string
}

func (c prefixedCarrier) Get(key string) string {
	return c.inner.Get(c.prefix + strings.ToLower(key))
}

func (c prefixedCarrier) Set(key, value string) {
	c.inner.Set(c.prefix+strings.ToLower(key), value)
}

func (c prefixedCarrier) Keys() []string {
	var keys []string
	for _, k := range c.inner.Keys() {
		if strings.HasPrefix(k, c.prefix) {
			keys = append(keys, strings.TrimPrefix(k, c.prefix))
		}
	}
	return keys
}
