package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "talon-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetFeeRule", func(t *testing.T) {
		rule := &domain.FeeRule{
			ID:                   17,
			CardScheme:           "GlobalCard",
			AccountType:          []string{"H", "R"},
			MerchantCategoryCode: []int{5812, 5813},
			ACI:                  []string{"A"},
			IsCredit:             domain.SetBool(true),
			CaptureDelay:         ">5",
			MonthlyVolume:        "100k-1m",
			MonthlyFraudLevel:    "7.7%-8.3%",
			FixedAmount:          decimal.RequireFromString("0.10"),
			Rate:                 decimal.NewFromInt(19),
		}

		if err := repo.SaveFeeRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveFeeRule failed: %v", err)
		}

		got, err := repo.GetFeeRule(ctx, tenantID, 17)
		if err != nil {
			t.Fatalf("GetFeeRule failed: %v", err)
		}
		if got.CardScheme != "GlobalCard" {
			t.Errorf("expected card scheme GlobalCard, got %s", got.CardScheme)
		}
		if len(got.AccountType) != 2 || got.AccountType[0] != "H" {
			t.Errorf("account types not preserved: %v", got.AccountType)
		}
		if len(got.MerchantCategoryCode) != 2 || got.MerchantCategoryCode[1] != 5813 {
			t.Errorf("MCCs not preserved: %v", got.MerchantCategoryCode)
		}
		if !got.IsCredit.Valid || !got.IsCredit.Bool {
			t.Errorf("is_credit tri-state not preserved: %+v", got.IsCredit)
		}
		if got.Intracountry.Valid {
			t.Errorf("unset intracountry must stay wildcard: %+v", got.Intracountry)
		}
		if got.MonthlyFraudLevel != "7.7%-8.3%" {
			t.Errorf("fraud range not preserved: %s", got.MonthlyFraudLevel)
		}
		if !got.FixedAmount.Equal(decimal.RequireFromString("0.10")) {
			t.Errorf("fixed amount not preserved: %s", got.FixedAmount)
		}
		if !got.Rate.Equal(decimal.NewFromInt(19)) {
			t.Errorf("rate not preserved: %s", got.Rate)
		}
	})

	t.Run("ListFeeRulesAscendingID", func(t *testing.T) {
		for _, id := range []int64{42, 3, 25} {
			rule := &domain.FeeRule{ID: id, FixedAmount: decimal.Zero, Rate: decimal.Zero}
			if err := repo.SaveFeeRule(ctx, tenantID, rule); err != nil {
				t.Fatalf("SaveFeeRule(%d) failed: %v", id, err)
			}
		}

		rules, err := repo.ListFeeRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListFeeRules failed: %v", err)
		}

		var last int64 = -1
		for _, r := range rules {
			if r.ID <= last {
				t.Fatalf("catalog not in ascending ID order: %d after %d", r.ID, last)
			}
			last = r.ID
		}
	})

	t.Run("SaveAndGetMerchant", func(t *testing.T) {
		m := &domain.Merchant{
			ID:                   "crossfit_hanna",
			AccountType:          "F",
			MerchantCategoryCode: 7997,
			CaptureDelay:         "manual",
			AcquiringCountry:     "NL",
		}
		if err := repo.SaveMerchant(ctx, tenantID, m); err != nil {
			t.Fatalf("SaveMerchant failed: %v", err)
		}

		got, err := repo.GetMerchant(ctx, tenantID, "crossfit_hanna")
		if err != nil {
			t.Fatalf("GetMerchant failed: %v", err)
		}
		if got.MerchantCategoryCode != 7997 || got.CaptureDelay != "manual" {
			t.Errorf("merchant config not preserved: %+v", got)
		}
	})

	t.Run("SaveAndGetPayment", func(t *testing.T) {
		p := &domain.Payment{
			ID:               "pay-001",
			MerchantID:       "crossfit_hanna",
			CardScheme:       "GlobalCard",
			ACI:              "C",
			IsCredit:         true,
			Amount:           123.45,
			IssuingCountry:   "NL",
			AcquiringCountry: "NL",
			Timestamp:        time.Now().UTC(),
			CreatedAt:        time.Now().UTC(),
			Metadata:         map[string]any{"source": "api"},
		}
		if err := repo.SavePayment(ctx, tenantID, p); err != nil {
			t.Fatalf("SavePayment failed: %v", err)
		}

		got, err := repo.GetPayment(ctx, tenantID, "pay-001")
		if err != nil {
			t.Fatalf("GetPayment failed: %v", err)
		}
		if got.Amount != 123.45 || !got.IsCredit {
			t.Errorf("payment not preserved: %+v", got)
		}
		if !got.Intracountry() {
			t.Error("NL->NL payment should be intracountry")
		}
	})

	t.Run("GetMonthlyTotals", func(t *testing.T) {
		month := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
		payments := []*domain.Payment{
			{ID: "mt-1", MerchantID: "m-totals", Amount: 100, Timestamp: month.AddDate(0, 0, 2)},
			{ID: "mt-2", MerchantID: "m-totals", Amount: 300, HasFraudulentDispute: true, Timestamp: month.AddDate(0, 0, 10)},
			{ID: "mt-3", MerchantID: "m-totals", Amount: 500, Timestamp: month.AddDate(0, 1, 1)}, // next month
		}
		for _, p := range payments {
			p.CreatedAt = p.Timestamp
			if err := repo.SavePayment(ctx, tenantID, p); err != nil {
				t.Fatalf("SavePayment(%s) failed: %v", p.ID, err)
			}
		}

		totals, err := repo.GetMonthlyTotals(ctx, tenantID, "m-totals", month, month.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("GetMonthlyTotals failed: %v", err)
		}
		if totals.TotalAmount != 400 {
			t.Errorf("expected total 400, got %v", totals.TotalAmount)
		}
		if totals.FraudAmount != 300 {
			t.Errorf("expected fraud amount 300, got %v", totals.FraudAmount)
		}
		if totals.TotalCount != 2 || totals.FraudCount != 1 {
			t.Errorf("expected counts 2/1, got %d/%d", totals.TotalCount, totals.FraudCount)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.FeeAssessment{
			ID:              "asm-001",
			PaymentID:       "pay-001",
			MerchantID:      "crossfit_hanna",
			RuleID:          17,
			Amount:          decimal.RequireFromString("1000"),
			Fee:             decimal.RequireFromString("2.0"),
			ApplicableRules: []int64{17, 42},
			Timestamp:       time.Now().UTC(),
		}
		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		got, err := repo.GetAssessment(ctx, tenantID, "asm-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.RuleID != 17 || !got.Fee.Equal(decimal.RequireFromString("2.0")) {
			t.Errorf("assessment not preserved: %+v", got)
		}
		if len(got.ApplicableRules) != 2 {
			t.Errorf("applicable rules not preserved: %v", got.ApplicableRules)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetFeeRule(ctx, tenantID, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetMerchant(ctx, tenantID, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetFeeRule(ctx, "other-tenant", 17); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected tenant isolation, got %v", err)
		}
	})
}
