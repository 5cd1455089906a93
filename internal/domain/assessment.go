package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeAssessment is the persisted outcome of matching one payment against the
// fee catalog and computing the billed fee.
type FeeAssessment struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	PaymentID  string    `json:"paymentId"`
	MerchantID string    `json:"merchantId"`
	Timestamp  time.Time `json:"timestamp"`

	// Billed rule (first match by ascending rule ID).
	RuleID int64 `json:"ruleId"`

	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`

	// Every applicable rule ID, ascending; the billed rule is the first.
	ApplicableRules []int64 `json:"applicableRules,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	StatsMs        int64  `json:"statsMs"`
	MatchMs        int64  `json:"matchMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}
