package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/talon/internal/domain"
)

// NATSBus is the Pro tier event bus. Assessment lifecycle events travel as
// JSON envelopes on talon.<tenant>.<topic> subjects, so tenant isolation is
// enforced by the subject layout rather than by consumer-side filtering.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs []*natsSub
}

type natsSub struct {
	topic domain.Topic
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS with reconnect resilience. The initial connect
// retries up to the reconnect budget before giving up, so the service can
// start while the broker is still coming up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	var conn *nats.Conn
	var err error
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, connectOptions(cfg)...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{conn: conn}, nil
}

// connectOptions builds the resilience options for a NATS connection.
// Published assessments are buffered client-side during a reconnect window
// rather than lost.
func connectOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			// sub is nil for connection-level errors.
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}

	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// Publish seals the event and sends it to the tenant's subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic domain.Topic, event any) error {
	if err := checkDestination(tenantID, topic); err != nil {
		return err
	}

	ev, err := seal(tenantID, topic, event)
	if err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return b.conn.Publish(subjectFor(tenantID, topic), data)
}

// Subscribe registers a handler on the tenant's subject. Envelopes that fail
// to decode are logged and dropped; a poison message must never wedge the
// assessment pipeline.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic domain.Topic, handler domain.EventHandler) (domain.Subscription, error) {
	if err := checkDestination(tenantID, topic); err != nil {
		return nil, err
	}

	subject := subjectFor(tenantID, topic)
	natsSubscription, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		var ev domain.Envelope
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			slog.Error("malformed event envelope",
				"subject", m.Subject,
				"error", err,
			)
			return
		}

		if err := handler(ctx, &ev); err != nil {
			slog.Error("event handler failed",
				"subject", m.Subject,
				"event_id", ev.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	sub := &natsSub{topic: topic, sub: natsSubscription}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = nil

	b.conn.Close()
	return nil
}

// Unsubscribe stops receiving events.
func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSub) Topic() domain.Topic {
	return s.topic
}
