package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"pubsubtrace/broker"
)

func testMessage(attrs map[string]string) *broker.Message {
	attempt := 1
	return &broker.Message{
		ID:              "msg-1",
		Data:            []byte(`{"message":"Hello from Firebase!","timestamp":"2024-11-05T03:04:05.678Z"}`),
		Attributes:      attrs,
		DeliveryAttempt: &attempt,
	}
}

func TestMessageHandlerResumesTrace(t *testing.T) {
	f := newFixture(t)

	err := MessageHandler(f.deps)(context.Background(), testMessage(map[string]string{"traceparent": testTraceparent}))
	require.NoError(t, err)

	ended := f.recorder.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, ConsumerSpanName, span.Name())
	assert.Equal(t, trace.SpanKindConsumer, span.SpanKind())
	assert.True(t, inboundSpanContext(t).Equal(span.Parent()))
	assert.Equal(t, inboundSpanContext(t).TraceID(), span.SpanContext().TraceID())
	assert.Contains(t, span.Attributes(), semconv.MessagingDestinationName("test"))
	assert.Contains(t, span.Attributes(), semconv.MessagingMessageID("msg-1"))
	assert.Contains(t, span.Attributes(), semconv.MessagingGCPPubsubMessageDeliveryAttempt(1))

	entries := f.logs.FilterMessage("Received message on 'test' topic").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Hello from Firebase!", fields["message"])
	assert.Equal(t, "2024-11-05T03:04:05.678Z", fields["timestamp"])
	assert.Equal(t, "msg-1", fields["messageId"])
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestMessageHandlerWithoutContext(t *testing.T) {
	for name, attrs := range map[string]map[string]string{
		"nil":       nil,
		"empty":     {},
		"unrelated": {"origin": "scheduler"},
		"malformed": {"traceparent": "not-a-traceparent"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)

			require.NoError(t, MessageHandler(f.deps)(context.Background(), testMessage(attrs)))

			assert.Empty(t, f.recorder.Started())
			entries := f.logs.FilterMessage("Received message on 'test' topic").All()
			require.Len(t, entries, 1)
			assert.Equal(t, "Hello from Firebase!", entries[0].ContextMap()["message"])
			assert.NotContains(t, entries[0].ContextMap(), "trace_id")
		})
	}
}

func TestMessageHandlerDecodeError(t *testing.T) {
	f := newFixture(t)
	msg := testMessage(map[string]string{"traceparent": testTraceparent})
	msg.Data = []byte("not json")

	err := MessageHandler(f.deps)(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode message msg-1")

	ended := f.recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, f.logs.FilterMessage("Failed to decode message").All(), 1)
	assert.Empty(t, f.logs.FilterMessage("Received message on 'test' topic").All())
}

func TestMessageHandlerMetrics(t *testing.T) {
	f := newFixture(t)
	handler := MessageHandler(f.deps)

	require.NoError(t, handler(context.Background(), testMessage(map[string]string{"traceparent": testTraceparent})))
	require.NoError(t, handler(context.Background(), testMessage(nil)))
	bad := testMessage(nil)
	bad.Data = []byte("{")
	require.Error(t, handler(context.Background(), bad))

	expected := `
# HELP pubsubtrace_messages_consumed_total Messages handled by the consumer, by whether a parent trace was resumed and result.
# TYPE pubsubtrace_messages_consumed_total counter
pubsubtrace_messages_consumed_total{result="error",traced="false"} 1
pubsubtrace_messages_consumed_total{result="ok",traced="false"} 1
pubsubtrace_messages_consumed_total{result="ok",traced="true"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), "pubsubtrace_messages_consumed_total"))
}

func TestProducerToConsumerOverMemoryBroker(t *testing.T) {
	f := newFixture(t)
	mem := broker.NewMemory(f.deps.Logger)
	t.Cleanup(func() { _ = mem.Close() })
	mem.AddSubscription("test-sub", "test")
	f.deps.Publisher = mem

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mem.Receive(ctx, "test-sub", MessageHandler(f.deps)) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool {
		return f.logs.FilterMessage("Subscribed").Len() > 0
	}, time.Second, time.Millisecond)

	rec := httptest.NewRecorder()
	PublishHandler(f.deps).ServeHTTP(rec, newPublishRequest(testTraceparent))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "Message published successfully! Message ID: "))

	require.Eventually(t, func() bool { return len(f.recorder.Ended()) == 1 }, time.Second, time.Millisecond)
	span := f.recorder.Ended()[0]
	assert.Equal(t, ConsumerSpanName, span.Name())
	assert.Equal(t, inboundSpanContext(t).TraceID(), span.SpanContext().TraceID())
	assert.Equal(t, inboundSpanContext(t).SpanID(), span.Parent().SpanID())

	id := strings.TrimPrefix(body, "Message published successfully! Message ID: ")
	entries := f.logs.FilterMessage("Received message on 'test' topic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ContextMap()["messageId"])
}
