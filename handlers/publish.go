package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pubsubtrace/broker"
	"pubsubtrace/metrics"
)

// PublishHandler publishes one message per request. The trace context active for the
// request is written into the message attributes so the consumer can resume it.
func PublishHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Logger.Debug(nil, "headers", zap.Any("headers", redactHeaders(r.Header)))

		id, err := d.publish(r)
		span := trace.SpanFromContext(r.Context())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.Logger.Error(span, "Error publishing message", zap.Error(err))
			http.Error(w, "Error publishing message", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Message published successfully! Message ID: %s", id)
	}
}

// credentialHeaders are logged as redactedValue.
var credentialHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
	"X-Goog-Iap-Jwt-Assertion",
}

const redactedValue = "[REDACTED]"

func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range credentialHeaders {
		if _, ok := out[name]; ok {
			out[name] = []string{redactedValue}
		}
	}
	return out
}

func (d Deps) publish(r *http.Request) (id string, err error) {
	started := time.Now()
	defer func() {
		if err != nil {
			d.Metrics.Published(d.Topic, metrics.ResultError, 0)
			return
		}
		d.Metrics.Published(d.Topic, metrics.ResultOK, time.Since(started).Seconds())
	}()

	ctx, end, err := d.parentContext(r)
	if err != nil {
		return "", err
	}
	defer end()
	span := trace.SpanFromContext(ctx)

	data, err := json.Marshal(NewPayload(d.now()))
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attributes := d.Bridge.InjectAttributes(ctx, map[string]string{})
	d.Logger.LogJson(span, "attributes", attributes)

	if err := sleep(ctx, d.PublishDelay); err != nil {
		return "", err
	}

	id, err = d.Publisher.Publish(ctx, d.Topic, &broker.Message{
		Data:       data,
		Attributes: attributes,
	})
	if err != nil {
		return "", err
	}

	if err := sleep(ctx, d.PublishDelay); err != nil {
		return "", err
	}

	d.Logger.Info(span, "Message published", zap.String("messageId", id))
	return id, nil
}

// parentContext resumes the context carried by the request headers, so the message
// carries the caller's identifiers even when tracing middleware already opened a server
// span. Without headers it falls back to a span on the request context. Without either
// it fails, or starts a new root span when RequireParent is off; end closes that span.
func (d Deps) parentContext(r *http.Request) (ctx context.Context, end func(), err error) {
	ctx = r.Context()
	if extracted, ok := d.Bridge.Extract(ctx, propagation.HeaderCarrier(r.Header)); ok {
		return extracted, func() {}, nil
	}
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx, func() {}, nil
	}
	if d.RequireParent {
		return nil, nil, ErrNoParentContext
	}
	ctx, span := d.Bridge.StartSpan(ctx, "publish "+d.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithNewRoot(),
	)
	return ctx, func() { span.End() }, nil
}
