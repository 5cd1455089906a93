package domain

import (
	"time"
)

// Payment is an incoming card payment to be assessed for fees.
type Payment struct {
	// Core identifiers
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`

	// Matching dimensions
	CardScheme string `json:"cardScheme"`
	ACI        string `json:"aci"`
	IsCredit   bool   `json:"isCredit"`

	// Financial details (EUR)
	Amount float64 `json:"amount"`

	// Geography; intracountry = issuing country equals acquiring country
	IssuingCountry   string `json:"issuingCountry"`
	AcquiringCountry string `json:"acquiringCountry"`

	// Fraud dispute flag, feeds the monthly fraud-rate aggregation
	HasFraudulentDispute bool `json:"hasFraudulentDispute"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Intracountry reports whether the payment is domestic.
func (p *Payment) Intracountry() bool {
	return p.IssuingCountry != "" && p.IssuingCountry == p.AcquiringCountry
}

// Merchant holds the merchant configuration that is constant across a
// merchant's payments within an evaluation.
type Merchant struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	AccountType          string `json:"accountType"`
	MerchantCategoryCode int    `json:"merchantCategoryCode"`

	// Either a categorical settlement mode ("immediate", "manual") or a
	// numeric day count in string form ("7").
	CaptureDelay string `json:"captureDelay"`

	AcquiringCountry string `json:"acquiringCountry"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TransactionContext carries everything the matcher needs for one payment.
// Instances are built per evaluation and discarded; they own no resources.
type TransactionContext struct {
	CardScheme           string
	AccountType          string
	MerchantCategoryCode int
	ACI                  string

	IsCredit     bool
	Intracountry bool

	// Categorical string or numeric day count in string form.
	CaptureDelay string

	// Supplied by the StatsProvider for the payment's (merchant, month).
	// MonthlyFraudRate is a 0-1 ratio.
	MonthlyVolume    float64
	MonthlyFraudRate float64

	// Monetary value; used by fee calculation and the optional CEL guard,
	// never by the structured field matching.
	Amount float64
}

// MerchantStats are the pre-aggregated monthly figures for a merchant.
type MerchantStats struct {
	MerchantID string  `json:"merchantId"`
	Month      string  `json:"month"` // "2006-01"
	Volume     float64 `json:"volume"`
	FraudRate  float64 `json:"fraudRate"` // 0-1 ratio
	Payments   int64   `json:"payments"`
}

// MonthlyTotals holds the raw aggregates a fraud rate is derived from.
type MonthlyTotals struct {
	TotalAmount float64
	FraudAmount float64
	TotalCount  int64
	FraudCount  int64
}
