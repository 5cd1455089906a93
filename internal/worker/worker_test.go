package worker

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/bus"
	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/engine"
	"github.com/opensource-finance/talon/internal/repository"
	"github.com/opensource-finance/talon/internal/stats"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestEngine(t *testing.T, rules []*domain.FeeRule) *engine.Engine {
	t.Helper()

	eng, err := engine.NewEngine("test")
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.LoadCatalog(rules); err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return eng
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	statsService := stats.NewService(repo, nil, domain.StatsConfig{})

	eng := newTestEngine(t, []*domain.FeeRule{
		{
			ID:          1,
			CardScheme:  "TransactPlus",
			FixedAmount: decimal.RequireFromString("0.10"),
			Rate:        decimal.RequireFromString("19"),
		},
		{
			ID:          2,
			FixedAmount: decimal.RequireFromString("0.05"),
			Rate:        decimal.RequireFromString("50"),
		},
	})

	worker := NewWorker(eventBus, repo, eng, statsService)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs:   []string{"tenant-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		ws := worker.GetStats()
		if ws.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", ws.SubscriptionCount)
		}
		if ws.Topics[0] != string(domain.TopicPaymentIngested) {
			t.Errorf("expected topic %q, got %q", domain.TopicPaymentIngested, ws.Topics[0])
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		ws = worker.GetStats()
		if ws.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", ws.SubscriptionCount)
		}
	})

	t.Run("ProcessPayment", func(t *testing.T) {
		ctx := context.Background()
		tenantID := "tenant-test"

		merchant := &domain.Merchant{
			ID:                   "merchant-001",
			TenantID:             tenantID,
			AccountType:          "H",
			MerchantCategoryCode: 5812,
			CaptureDelay:         "1",
			AcquiringCountry:     "NL",
		}
		if err := repo.SaveMerchant(ctx, tenantID, merchant); err != nil {
			t.Fatalf("SaveMerchant failed: %v", err)
		}

		w := NewWorker(eventBus, repo, eng, statsService)

		cfg := Config{
			TenantIDs: []string{tenantID},
		}
		w.Start(cfg)
		defer w.Stop()

		var assessed atomic.Pointer[domain.FeeAssessment]
		eventBus.Subscribe(ctx, tenantID, domain.TopicFeeAssessed, func(ctx context.Context, ev *domain.Envelope) error {
			var a domain.FeeAssessment
			if err := ev.Decode(&a); err != nil {
				return err
			}
			assessed.Store(&a)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		event := domain.PaymentEvent{
			PaymentID:        "pay-001",
			TenantID:         tenantID,
			TraceID:          "trace-001",
			MerchantID:       "merchant-001",
			CardScheme:       "TransactPlus",
			ACI:              "D",
			IsCredit:         true,
			Amount:           100.0,
			IssuingCountry:   "NL",
			AcquiringCountry: "NL",
			Timestamp:        time.Date(2023, 4, 12, 10, 0, 0, 0, time.UTC),
		}

		err := eventBus.Publish(ctx, tenantID, domain.TopicPaymentIngested, event)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		deadline := time.Now().Add(2 * time.Second)
		for assessed.Load() == nil && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		assessment := assessed.Load()
		if assessment == nil {
			t.Fatal("expected assessment to be published")
		}

		if assessment.PaymentID != "pay-001" {
			t.Errorf("expected paymentID 'pay-001', got '%s'", assessment.PaymentID)
		}
		if assessment.RuleID != 1 {
			t.Errorf("expected billed rule 1, got %d", assessment.RuleID)
		}
		// 0.10 + 19 * 100 / 10000
		want := decimal.RequireFromString("0.29")
		if !assessment.Fee.Equal(want) {
			t.Errorf("expected fee %s, got %s", want, assessment.Fee)
		}
		if assessment.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", assessment.Metadata.TraceID)
		}

		// Payment and assessment are persisted
		if _, err := repo.GetPayment(ctx, tenantID, "pay-001"); err != nil {
			t.Errorf("expected payment to be saved: %v", err)
		}
		if _, err := repo.GetAssessment(ctx, tenantID, assessment.ID); err != nil {
			t.Errorf("expected assessment to be saved: %v", err)
		}
	})

	t.Run("NoApplicableRule", func(t *testing.T) {
		ctx := context.Background()
		tenantID := "tenant-norule"

		merchant := &domain.Merchant{
			ID:                   "merchant-002",
			TenantID:             tenantID,
			AccountType:          "R",
			MerchantCategoryCode: 5411,
			CaptureDelay:         "manual",
		}
		if err := repo.SaveMerchant(ctx, tenantID, merchant); err != nil {
			t.Fatalf("SaveMerchant failed: %v", err)
		}

		// Catalog with a single scheme-bound rule that will not match
		narrow := newTestEngine(t, []*domain.FeeRule{
			{
				ID:          9,
				CardScheme:  "GlobalCard",
				FixedAmount: decimal.RequireFromString("1"),
				Rate:        decimal.RequireFromString("0"),
			},
		})

		w := NewWorker(eventBus, repo, narrow, statsService)
		w.Start(Config{TenantIDs: []string{tenantID}})
		defer w.Stop()

		var assessedReceived atomic.Bool
		eventBus.Subscribe(ctx, tenantID, domain.TopicFeeAssessed, func(ctx context.Context, ev *domain.Envelope) error {
			assessedReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		event := domain.PaymentEvent{
			PaymentID:  "pay-002",
			TenantID:   tenantID,
			MerchantID: "merchant-002",
			CardScheme: "NexPay",
			ACI:        "F",
			Amount:     42.0,
			Timestamp:  time.Date(2023, 5, 3, 9, 0, 0, 0, time.UTC),
		}

		eventBus.Publish(ctx, tenantID, domain.TopicPaymentIngested, event)

		time.Sleep(100 * time.Millisecond)

		if assessedReceived.Load() {
			t.Error("expected no assessment when no rule applies")
		}

		// The payment still lands in storage and feeds the aggregates
		if _, err := repo.GetPayment(ctx, tenantID, "pay-002"); err != nil {
			t.Errorf("expected payment to be saved: %v", err)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, repo, eng, statsService)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		ws := w.GetStats()
		if ws.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", ws.SubscriptionCount)
		}
	})
}
