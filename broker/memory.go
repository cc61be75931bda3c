package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pubsubtrace/logs"
)

// Memory is an in-process broker for local runs and tests. Each publish is delivered
// asynchronously, once, to every subscription bound to the topic; a subscription with no
// active receiver drops it. Failed deliveries are logged and dropped.
type Memory struct {
	bus EventBus.Bus
	log logs.OtelLogging
	now func() time.Time

	mu            sync.Mutex
	subscriptions map[string]string
	receiving     map[string]bool
	closed        bool
}

func NewMemory(log logs.OtelLogging) *Memory {
	return &Memory{
		bus:           EventBus.New(),
		log:           log,
		now:           time.Now,
		subscriptions: make(map[string]string),
		receiving:     make(map[string]bool),
	}
}

// AddSubscription binds subscription to topic.
func (m *Memory) AddSubscription(subscription, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[subscription] = topic
}

func (m *Memory) Publish(ctx context.Context, topic string, msg *Message) (string, error) {
	if topic == "" {
		return "", ErrTopicRequired
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	publishTime := m.now().UTC()
	for _, sub := range m.subscriptionsFor(topic) {
		m.bus.Publish(sub, Message{
			ID:          id,
			Data:        append([]byte(nil), msg.Data...),
			Attributes:  copyAttributes(msg.Attributes),
			OrderingKey: msg.OrderingKey,
			PublishTime: publishTime,
		})
	}
	return id, nil
}

func (m *Memory) subscriptionsFor(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []string
	for sub, t := range m.subscriptions {
		if t == topic {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Receive consumes subscription until ctx is done. A subscription has at most one
// active receiver.
func (m *Memory) Receive(ctx context.Context, subscription string, handler Handler) error {
	m.mu.Lock()
	_, ok := m.subscriptions[subscription]
	closed := m.closed
	busy := m.receiving[subscription]
	if ok && !closed && !busy {
		m.receiving[subscription] = true
	}
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, subscription)
	}
	if busy {
		return fmt.Errorf("%w: %s", ErrSubscriptionBusy, subscription)
	}
	defer func() {
		m.mu.Lock()
		delete(m.receiving, subscription)
		m.mu.Unlock()
	}()

	deliver := func(msg Message) {
		attempt := 1
		msg.DeliveryAttempt = &attempt
		if err := handler(ctx, &msg); err != nil {
			m.log.Error(nil, "message handler failed",
				zap.String("subscription", subscription),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	// Bus topics are subscription names, so the only callback under this name is ours.
	if err := m.bus.SubscribeAsync(subscription, deliver, false); err != nil {
		return fmt.Errorf("subscribe %s: %w", subscription, err)
	}
	m.log.Info(nil, "Subscribed", zap.String("subscription", subscription))

	<-ctx.Done()
	_ = m.bus.Unsubscribe(subscription, deliver)
	return nil
}

// WaitAsync blocks until every in-flight delivery has returned.
func (m *Memory) WaitAsync() {
	m.bus.WaitAsync()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.bus.WaitAsync()
	return nil
}
