package broker

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"
)

// PubSub publishes to and receives from Google Cloud Pub/Sub. PUBSUB_EMULATOR_HOST is
// honoured by the underlying client.
type PubSub struct {
	client *pubsub.Client

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
	closed     bool
}

func NewPubSub(ctx context.Context, projectID string, opts ...option.ClientOption) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{
		client:     client,
		publishers: make(map[string]*pubsub.Publisher),
	}, nil
}

func (p *PubSub) publisher(topic string) (*pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub, nil
}

// Publish blocks until the server acknowledges the message.
func (p *PubSub) Publish(ctx context.Context, topic string, msg *Message) (string, error) {
	if topic == "" {
		return "", ErrTopicRequired
	}
	pub, err := p.publisher(topic)
	if err != nil {
		return "", err
	}

	result := pub.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Receive acks a message when handler returns nil and nacks it otherwise.
func (p *PubSub) Receive(ctx context.Context, subscription string, handler Handler) error {
	sub := p.client.Subscriber(subscription)
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := &Message{
			ID:              m.ID,
			Data:            m.Data,
			Attributes:      m.Attributes,
			OrderingKey:     m.OrderingKey,
			PublishTime:     m.PublishTime,
			DeliveryAttempt: m.DeliveryAttempt,
		}
		if err := handler(ctx, msg); err != nil {
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive from %s: %w", subscription, err)
	}
	return nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	p.closed = true
	publishers := p.publishers
	p.publishers = map[string]*pubsub.Publisher{}
	p.mu.Unlock()

	for _, pub := range publishers {
		pub.Stop()
	}
	return p.client.Close()
}
