// Package broker publishes and receives messages whose attributes carry trace context.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTopicRequired       = errors.New("broker: topic is required")
	ErrUnknownSubscription = errors.New("broker: unknown subscription")
	ErrClosed              = errors.New("broker: closed")
	ErrSubscriptionBusy    = errors.New("broker: subscription already has a receiver")
)

// Message is a payload plus string metadata.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	OrderingKey     string
	PublishTime     time.Time
	DeliveryAttempt *int
}

// Handler processes one delivery. A nil error acknowledges the message; anything else
// hands it back to the broker's retry policy.
type Handler func(ctx context.Context, msg *Message) error

type Publisher interface {
	// Publish sends msg to topic and returns the broker-assigned message id.
	Publish(ctx context.Context, topic string, msg *Message) (string, error)
}

type Subscriber interface {
	// Receive delivers messages from subscription to handler until ctx is done.
	Receive(ctx context.Context, subscription string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

func copyAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
