package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topic names one stage of the assessment lifecycle. The bus only carries
// these three topics; publishing or subscribing to anything else is a
// programming error, rejected with ErrUnknownTopic.
type Topic string

const (
	// TopicPaymentIngested carries a PaymentEvent awaiting assessment.
	TopicPaymentIngested Topic = "payment.ingested"

	// TopicFeeAssessed carries the FeeAssessment produced for a payment.
	TopicFeeAssessed Topic = "fee.assessed"

	// TopicCatalogReloaded carries a CatalogEvent after a hot reload.
	TopicCatalogReloaded Topic = "catalog.reloaded"
)

// Valid reports whether t is one of the assessment lifecycle topics.
func (t Topic) Valid() bool {
	switch t {
	case TopicPaymentIngested, TopicFeeAssessed, TopicCatalogReloaded:
		return true
	}
	return false
}

// PaymentEvent is the payload of TopicPaymentIngested: one payment submitted
// for asynchronous fee assessment.
type PaymentEvent struct {
	PaymentID            string         `json:"paymentId"`
	TenantID             string         `json:"tenantId"`
	TraceID              string         `json:"traceId,omitempty"`
	MerchantID           string         `json:"merchantId"`
	CardScheme           string         `json:"cardScheme"`
	ACI                  string         `json:"aci"`
	IsCredit             bool           `json:"isCredit"`
	Amount               float64        `json:"amount"`
	IssuingCountry       string         `json:"issuingCountry,omitempty"`
	AcquiringCountry     string         `json:"acquiringCountry,omitempty"`
	HasFraudulentDispute bool           `json:"hasFraudulentDispute,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// CatalogEvent is the payload of TopicCatalogReloaded.
type CatalogEvent struct {
	Count int `json:"count"`
}

// Envelope wraps one event on the wire. The payload stays raw until the
// subscriber decodes it into the topic's event type.
type Envelope struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the envelope payload into the topic's event type.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s event %s: %w", e.Topic, e.ID, err)
	}
	return nil
}

// EventHandler processes one delivered envelope. A returned error marks the
// delivery failed; redelivery is up to the bus implementation.
type EventHandler func(ctx context.Context, ev *Envelope) error

// EventBus moves assessment lifecycle events between the API, the async
// worker, and external consumers. Implementations are Go channels (Community)
// or NATS (Pro). Every operation is scoped to a tenant; subjects never cross
// tenants.
type EventBus interface {
	// Publish marshals event and delivers it to the tenant's topic.
	Publish(ctx context.Context, tenantID string, topic Topic, event any) error

	// Subscribe registers a handler for the tenant's topic.
	Subscribe(ctx context.Context, tenantID string, topic Topic, handler EventHandler) (Subscription, error)

	// Ping checks bus health.
	Ping(ctx context.Context) error

	// Close releases all subscriptions and connections.
	Close() error
}

// Subscription is one active topic registration.
type Subscription interface {
	// Unsubscribe stops receiving events.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() Topic
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
