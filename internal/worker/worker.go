// Package worker provides async payment processing for the Pro tier.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/engine"
)

// Worker assesses payments asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine
	stats  domain.StatsProvider

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, stats domain.StatsProvider) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		stats:  stats,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing payment events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicPaymentIngested, func(ctx context.Context, ev *domain.Envelope) error {
		return w.processPayment(ctx, ev.TenantID, ev)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicPaymentIngested, func(ctx context.Context, ev *domain.Envelope) error {
		return w.processPayment(ctx, tenantID, ev)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicPaymentIngested,
	)

	return nil
}

// processPayment runs one ingested payment through the assessment pipeline.
func (w *Worker) processPayment(ctx context.Context, tenantID string, ev *domain.Envelope) error {
	start := time.Now()

	var pe domain.PaymentEvent
	if err := ev.Decode(&pe); err != nil {
		slog.Error("failed to decode payment event",
			"event_id", ev.ID,
			"error", err,
		)
		return err
	}

	// Use event tenant if provided
	if pe.TenantID != "" {
		tenantID = pe.TenantID
	}

	traceID := pe.TraceID
	if traceID == "" {
		traceID = ev.ID
	}

	slog.Debug("processing payment",
		"payment_id", pe.PaymentID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	if pe.Timestamp.IsZero() {
		pe.Timestamp = time.Now().UTC()
	}

	payment := &domain.Payment{
		ID:                   pe.PaymentID,
		TenantID:             tenantID,
		MerchantID:           pe.MerchantID,
		CardScheme:           pe.CardScheme,
		ACI:                  pe.ACI,
		IsCredit:             pe.IsCredit,
		Amount:               pe.Amount,
		IssuingCountry:       pe.IssuingCountry,
		AcquiringCountry:     pe.AcquiringCountry,
		HasFraudulentDispute: pe.HasFraudulentDispute,
		Timestamp:            pe.Timestamp,
		CreatedAt:            time.Now().UTC(),
		Metadata:             pe.Metadata,
	}

	// 1. Persist the payment first so it feeds the monthly aggregates even
	// when no rule applies.
	if err := w.repo.SavePayment(ctx, tenantID, payment); err != nil {
		slog.Error("failed to save payment",
			"payment_id", pe.PaymentID,
			"error", err,
		)
		return err
	}

	// 2. Load merchant configuration
	merchant, err := w.repo.GetMerchant(ctx, tenantID, pe.MerchantID)
	if err != nil {
		slog.Error("failed to load merchant",
			"payment_id", pe.PaymentID,
			"merchant_id", pe.MerchantID,
			"error", err,
		)
		return err
	}

	// 3. Fetch monthly stats for the payment's month
	statsStart := time.Now()
	monthStats, err := w.stats.MonthlyStats(ctx, tenantID, merchant.ID, payment.Timestamp)
	if err != nil {
		slog.Error("failed to fetch monthly stats",
			"payment_id", pe.PaymentID,
			"merchant_id", merchant.ID,
			"error", err,
		)
		return err
	}
	statsMs := time.Since(statsStart).Milliseconds()

	// 4. Match and compute the fee
	tc := &domain.TransactionContext{
		CardScheme:           payment.CardScheme,
		AccountType:          merchant.AccountType,
		MerchantCategoryCode: merchant.MerchantCategoryCode,
		ACI:                  payment.ACI,
		IsCredit:             payment.IsCredit,
		Intracountry:         payment.Intracountry(),
		CaptureDelay:         merchant.CaptureDelay,
		MonthlyVolume:        monthStats.Volume,
		MonthlyFraudRate:     monthStats.FraudRate,
		Amount:               payment.Amount,
	}

	assessment, err := w.engine.Assess(tc, decimal.NewFromFloat(payment.Amount))
	if err != nil {
		if errors.Is(err, domain.ErrNoApplicableRule) {
			slog.Warn("no applicable fee rule",
				"payment_id", pe.PaymentID,
				"merchant_id", merchant.ID,
				"card_scheme", payment.CardScheme,
			)
			return nil
		}
		slog.Error("fee assessment failed",
			"payment_id", pe.PaymentID,
			"error", err,
		)
		return err
	}

	assessment.TenantID = tenantID
	assessment.PaymentID = payment.ID
	assessment.MerchantID = merchant.ID
	assessment.Metadata.TraceID = traceID
	assessment.Metadata.StatsMs = statsMs
	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	// 5. Save assessment
	if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
		slog.Error("failed to save assessment",
			"payment_id", pe.PaymentID,
			"error", err,
		)
	}

	// 6. Publish result
	if err := w.bus.Publish(ctx, tenantID, domain.TopicFeeAssessed, assessment); err != nil {
		slog.Error("failed to publish assessment",
			"payment_id", pe.PaymentID,
			"error", err,
		)
	}

	slog.Info("payment assessed",
		"payment_id", pe.PaymentID,
		"tenant_id", tenantID,
		"rule_id", assessment.RuleID,
		"fee", assessment.Fee.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = string(sub.Topic())
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
