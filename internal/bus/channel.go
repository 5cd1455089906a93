package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/talon/internal/domain"
)

// ChannelBus is the Community tier event bus: in-process fan-out over Go
// channels. Every subscriber owns a buffered delivery channel drained by its
// own goroutine, so a slow handler never blocks Publish; when a subscriber's
// buffer is full the event is dropped for that subscriber and logged.
type ChannelBus struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[string][]*channelSub // key: subjectFor(tenant, topic)
	closed      bool
}

type channelSub struct {
	bus        *ChannelBus
	key        string
	topic      domain.Topic
	deliveries chan *domain.Envelope
	cancel     context.CancelFunc
}

// NewChannelBus creates an in-process event bus. bufferSize bounds each
// subscriber's delivery backlog.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]*channelSub),
	}
}

// Publish seals the event and fans it out to the tenant's topic subscribers.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic domain.Topic, event any) error {
	if err := checkDestination(tenantID, topic); err != nil {
		return err
	}

	ev, err := seal(tenantID, topic, event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return domain.ErrBusClosed
	}
	subs := b.subscribers[subjectFor(tenantID, topic)]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.deliveries <- ev:
		default:
			slog.Warn("subscriber backlog full, event dropped",
				"topic", topic,
				"tenant_id", tenantID,
				"event_id", ev.ID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for the tenant's topic and starts its
// delivery goroutine.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic domain.Topic, handler domain.EventHandler) (domain.Subscription, error) {
	if err := checkDestination(tenantID, topic); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.ErrBusClosed
	}

	key := subjectFor(tenantID, topic)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSub{
		bus:        b,
		key:        key,
		topic:      topic,
		deliveries: make(chan *domain.Envelope, b.bufferSize),
		cancel:     cancel,
	}

	go deliver(subCtx, sub, handler)

	b.subscribers[key] = append(b.subscribers[key], sub)

	return sub, nil
}

// deliver drains one subscriber's backlog until its context is cancelled.
// Handler errors are logged; the channel bus does not redeliver.
func deliver(ctx context.Context, sub *channelSub, handler domain.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.deliveries:
			if ev == nil {
				return
			}
			if err := handler(ctx, ev); err != nil {
				slog.Error("event handler failed",
					"topic", ev.Topic,
					"event_id", ev.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrBusClosed
	}
	return nil
}

// Close stops all delivery goroutines and rejects further operations.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.cancel()
			close(sub.deliveries)
		}
	}
	b.subscribers = make(map[string][]*channelSub)
	return nil
}

// Unsubscribe stops the delivery goroutine and removes the subscriber from
// the registry so Publish stops writing to its channel.
func (s *channelSub) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscribers[s.key]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscribers[s.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSub) Topic() domain.Topic {
	return s.topic
}
