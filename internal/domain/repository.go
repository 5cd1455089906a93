// Package domain defines the core interfaces and types for Talon.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Fee catalog operations. ListFeeRules returns rules ordered by
	// ascending rule ID, the catalog precedence order.
	SaveFeeRule(ctx context.Context, tenantID string, rule *FeeRule) error
	GetFeeRule(ctx context.Context, tenantID string, ruleID int64) (*FeeRule, error)
	ListFeeRules(ctx context.Context, tenantID string) ([]*FeeRule, error)

	// Merchant configuration operations
	SaveMerchant(ctx context.Context, tenantID string, m *Merchant) error
	GetMerchant(ctx context.Context, tenantID string, merchantID string) (*Merchant, error)
	ListMerchants(ctx context.Context, tenantID string) ([]*Merchant, error)

	// Payment operations
	SavePayment(ctx context.Context, tenantID string, p *Payment) error
	GetPayment(ctx context.Context, tenantID string, paymentID string) (*Payment, error)

	// GetMonthlyTotals aggregates payment volume and fraud-dispute volume for
	// a merchant over [from, to). Feeds the StatsProvider.
	GetMonthlyTotals(ctx context.Context, tenantID string, merchantID string, from, to time.Time) (*MonthlyTotals, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, a *FeeAssessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*FeeAssessment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// StatsProvider supplies pre-aggregated monthly volume and fraud rate for a
// (merchant, month) pair. month is truncated to the first of the month, UTC.
type StatsProvider interface {
	MonthlyStats(ctx context.Context, tenantID string, merchantID string, month time.Time) (*MerchantStats, error)
}

// FraudRateBasis selects the fraud-rate definition the StatsProvider uses.
type FraudRateBasis string

const (
	// FraudBasisVolume is fraud EUR amount divided by total EUR amount.
	FraudBasisVolume FraudRateBasis = "volume"

	// FraudBasisCount is fraud payment count divided by total payment count.
	FraudBasisCount FraudRateBasis = "count"
)

// StatsConfig holds configuration for the stats provider.
type StatsConfig struct {
	// Basis selects the fraud-rate definition; defaults to volume.
	Basis FraudRateBasis

	// CacheTTL bounds staleness of cached monthly stats.
	CacheTTL time.Duration
}
