package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pubsubtrace/broker"
	"pubsubtrace/metrics"
)

// MessageHandler resumes the trace carried in the message attributes, if any, and logs
// the decoded payload inside a consumer span. Messages without a trace context are
// processed the same way without a span.
func MessageHandler(d Deps) broker.Handler {
	return func(ctx context.Context, msg *broker.Message) error {
		carrier := propagation.MapCarrier(msg.Attributes)
		traced := d.Bridge.HasContext(carrier)

		err := d.Bridge.WithContext(ctx, carrier, ConsumerSpanName,
			func(ctx context.Context) error {
				return d.process(ctx, msg)
			},
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(consumerSpanAttrs(d.Topic, msg)...),
		)

		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		d.Metrics.Consumed(traced, result)
		return err
	}
}

func (d Deps) process(ctx context.Context, msg *broker.Message) error {
	span := trace.SpanFromContext(ctx)

	var payload Payload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		d.Logger.Error(span, "Failed to decode message", zap.String("messageId", msg.ID), zap.Error(err))
		return fmt.Errorf("decode message %s: %w", msg.ID, err)
	}

	d.Logger.Info(span, fmt.Sprintf("Received message on '%s' topic", d.Topic),
		zap.String("message", payload.Message),
		zap.String("timestamp", payload.Timestamp),
		zap.String("messageId", msg.ID),
	)

	return sleep(ctx, d.ConsumeDelay)
}

func consumerSpanAttrs(topic string, msg *broker.Message) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.MessagingSystemGCPPubsub,
		semconv.MessagingOperationTypeDeliver,
		semconv.MessagingDestinationName(topic),
		semconv.MessagingMessageBodySize(len(msg.Data)),
	}
	if msg.ID != "" {
		attrs = append(attrs, semconv.MessagingMessageID(msg.ID))
	}
	if msg.DeliveryAttempt != nil {
		attrs = append(attrs, semconv.MessagingGCPPubsubMessageDeliveryAttempt(*msg.DeliveryAttempt))
	}
	return attrs
}
