// Package stats supplies pre-aggregated monthly volume and fraud rate for
// (merchant, month) pairs. The fee engine core never touches I/O; callers
// fetch stats here before building a transaction context.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

// TotalsSource is the slice of the repository the service needs.
type TotalsSource interface {
	GetMonthlyTotals(ctx context.Context, tenantID string, merchantID string, from, to time.Time) (*domain.MonthlyTotals, error)
}

// Service computes merchant monthly stats from stored payments.
//
// The fraud-rate definition is an explicit, configured contract: with
// FraudBasisVolume (the default) it is fraud EUR amount over total EUR
// amount; with FraudBasisCount it is fraud payment count over total payment
// count. Both appear in the wild, so the choice is never implicit.
type Service struct {
	source TotalsSource
	cache  domain.Cache // optional
	basis  domain.FraudRateBasis
	ttl    time.Duration
}

// NewService creates a stats service. cache may be nil.
func NewService(source TotalsSource, cache domain.Cache, cfg domain.StatsConfig) *Service {
	basis := cfg.Basis
	if basis == "" {
		basis = domain.FraudBasisVolume
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Service{source: source, cache: cache, basis: basis, ttl: ttl}
}

// Basis returns the configured fraud-rate definition.
func (s *Service) Basis() domain.FraudRateBasis { return s.basis }

// MonthlyStats returns the volume and fraud rate for a merchant month.
// month is truncated to the first of its month, UTC.
func (s *Service) MonthlyStats(ctx context.Context, tenantID string, merchantID string, month time.Time) (*domain.MerchantStats, error) {
	if tenantID == "" || merchantID == "" {
		return nil, fmt.Errorf("tenantID and merchantID are required")
	}

	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	key := cacheKey(merchantID, from)

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, tenantID, key); err == nil && raw != nil {
			var cached domain.MerchantStats
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	totals, err := s.source.GetMonthlyTotals(ctx, tenantID, merchantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate monthly totals: %w", err)
	}

	result := &domain.MerchantStats{
		MerchantID: merchantID,
		Month:      from.Format("2006-01"),
		Volume:     totals.TotalAmount,
		FraudRate:  s.fraudRate(totals),
		Payments:   totals.TotalCount,
	}

	if s.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, tenantID, key, raw, s.ttl); err != nil {
				slog.Warn("failed to cache monthly stats",
					"merchant_id", merchantID,
					"month", result.Month,
					"error", err,
				)
			}
		}
	}

	return result, nil
}

// fraudRate derives the 0-1 ratio for the configured basis. A month with no
// payments has a fraud rate of zero.
func (s *Service) fraudRate(t *domain.MonthlyTotals) float64 {
	switch s.basis {
	case domain.FraudBasisCount:
		if t.TotalCount == 0 {
			return 0
		}
		return float64(t.FraudCount) / float64(t.TotalCount)
	default:
		if t.TotalAmount == 0 {
			return 0
		}
		return t.FraudAmount / t.TotalAmount
	}
}

func cacheKey(merchantID string, month time.Time) string {
	return "stats:" + merchantID + ":" + month.Format("2006-01")
}
