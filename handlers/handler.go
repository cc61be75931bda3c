package handlers

import (
	"context"
	"errors"
	"time"

	"pubsubtrace/bridge"
	"pubsubtrace/broker"
	"pubsubtrace/logs"
	"pubsubtrace/metrics"
)

const (
	HelloMessage = "Hello from Firebase!"

	// TimestampLayout is ISO-8601 with millisecond precision; UTC times render with a Z suffix.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	ConsumerSpanName = "handleTestMessage"
)

var ErrNoParentContext = errors.New("no parent context found")

// Payload is the JSON body of every published message.
type Payload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewPayload(now time.Time) Payload {
	return Payload{
		Message:   HelloMessage,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
}

type Deps struct {
	Logger    logs.OtelLogging
	Bridge    *bridge.Bridge
	Publisher broker.Publisher
	Metrics   *metrics.Metrics
	Topic     string

	// PublishDelay is awaited before and after publishing, ConsumeDelay while
	// processing a message. Both only make spans easier to read on a timeline.
	PublishDelay time.Duration
	ConsumeDelay time.Duration

	// RequireParent makes the producer fail requests that carry no trace context
	// instead of starting a new trace.
	RequireParent bool

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
