package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeRule is one entry of the fee catalog. Every optional field, when
// present, constrains the match; when absent (empty string, empty collection
// or unset OptBool) it is a wildcard and imposes no constraint.
type FeeRule struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenantId,omitempty"`

	// Exact-match constraint; "" = wildcard.
	CardScheme string `json:"card_scheme,omitempty"`

	// Set-membership constraints; empty = wildcard.
	AccountType          []string `json:"account_type,omitempty"`
	MerchantCategoryCode []int    `json:"merchant_category_code,omitempty"`
	ACI                  []string `json:"aci,omitempty"`

	// Tri-state boolean constraints; unset = wildcard. Intracountry tolerates
	// the legacy 0.0/1.0 encoding found in older catalog exports.
	IsCredit     OptBool `json:"is_credit"`
	Intracountry OptBool `json:"intracountry"`

	// Range-expression constraints; "" = wildcard.
	// CaptureDelay is either categorical ("immediate", "manual") or a numeric
	// day-count expression ("<3", "3-5", ">5").
	CaptureDelay      string `json:"capture_delay,omitempty"`
	MonthlyVolume     string `json:"monthly_volume,omitempty"`
	MonthlyFraudLevel string `json:"monthly_fraud_level,omitempty"`

	// Optional CEL guard over the transaction context, for constraints the
	// structured fields cannot express. Compiled at catalog load.
	Expression string `json:"expression,omitempty"`

	// Fee components. fee = FixedAmount + Rate * amount / 10000.
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	Rate        decimal.Decimal `json:"rate"`
}

// OptBool is a tri-state boolean: unset means wildcard. It unmarshals from
// JSON null, booleans, and 0.0/1.0 numbers.
type OptBool struct {
	Valid bool
	Bool  bool
}

// SetBool builds a set OptBool.
func SetBool(b bool) OptBool {
	return OptBool{Valid: true, Bool: b}
}

func (o *OptBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "":
		*o = OptBool{}
		return nil
	case "true":
		*o = OptBool{Valid: true, Bool: true}
		return nil
	case "false":
		*o = OptBool{Valid: true, Bool: false}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("cannot decode %q as tri-state boolean", data)
	}
	switch f {
	case 0:
		*o = OptBool{Valid: true, Bool: false}
	case 1:
		*o = OptBool{Valid: true, Bool: true}
	default:
		return fmt.Errorf("cannot decode %v as tri-state boolean", f)
	}
	return nil
}

func (o OptBool) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Bool)
}

// Matches reports whether the constraint holds for an actual value.
// An unset OptBool matches anything.
func (o OptBool) Matches(actual bool) bool {
	return !o.Valid || o.Bool == actual
}
