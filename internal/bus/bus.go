// Package bus carries assessment lifecycle events (payment ingested, fee
// assessed, catalog reloaded) between the API, the async worker, and external
// consumers. Events travel as JSON envelopes on tenant-scoped subjects; the
// three lifecycle topics are the only valid destinations.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
)

// New creates an event bus based on configuration: Go channels for the
// Community tier, NATS for the Pro tier.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// checkDestination validates the tenant/topic pair every bus operation is
// addressed to.
func checkDestination(tenantID string, topic domain.Topic) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if !topic.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTopic, topic)
	}
	return nil
}

// seal marshals an event into its wire envelope.
func seal(tenantID string, topic domain.Topic, event any) (*domain.Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return &domain.Envelope{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// subjectFor builds the broker subject for a tenant's topic. The layout is
// talon.<tenant>.<topic>, so a per-tenant wildcard consumer can subscribe to
// talon.<tenant>.> without seeing other tenants.
func subjectFor(tenantID string, topic domain.Topic) string {
	return "talon." + tenantID + "." + string(topic)
}
