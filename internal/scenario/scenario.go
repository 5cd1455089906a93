// Package scenario runs what-if sweeps over the fee engine: evaluate a fixed
// context with one dimension varied (ACI, card scheme) and report the fee of
// each variant. Each variant is a pure engine call on its own context copy,
// so sweeps carry no state of their own.
package scenario

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/engine"
)

// Outcome is the fee result for one scenario variant.
type Outcome struct {
	Value  string          `json:"value"` // the varied dimension's value
	RuleID int64           `json:"ruleId"`
	Fee    decimal.Decimal `json:"fee"`
}

// Sweep evaluates scenario variants against an engine.
type Sweep struct {
	engine *engine.Engine
}

// NewSweep creates a sweep over the given engine.
func NewSweep(e *engine.Engine) *Sweep {
	return &Sweep{engine: e}
}

// ByACI assesses the context once per candidate ACI and returns the outcomes
// sorted by ascending fee. Variants with no applicable rule are omitted.
func (s *Sweep) ByACI(tc *domain.TransactionContext, amount decimal.Decimal, acis []string) []Outcome {
	return s.sweep(tc, amount, acis, func(v *domain.TransactionContext, aci string) {
		v.ACI = aci
	})
}

// ByScheme assesses the context once per candidate card scheme.
func (s *Sweep) ByScheme(tc *domain.TransactionContext, amount decimal.Decimal, schemes []string) []Outcome {
	return s.sweep(tc, amount, schemes, func(v *domain.TransactionContext, scheme string) {
		v.CardScheme = scheme
	})
}

// Cheapest returns the lowest-fee outcome of a sweep, or false when no
// variant had an applicable rule.
func Cheapest(outcomes []Outcome) (Outcome, bool) {
	if len(outcomes) == 0 {
		return Outcome{}, false
	}
	return outcomes[0], true
}

func (s *Sweep) sweep(tc *domain.TransactionContext, amount decimal.Decimal, values []string, apply func(*domain.TransactionContext, string)) []Outcome {
	outcomes := make([]Outcome, 0, len(values))

	for _, value := range values {
		variant := *tc
		apply(&variant, value)

		rule, err := s.engine.MatchOne(&variant)
		if err != nil {
			// ErrNoApplicableRule: this variant simply has no price.
			continue
		}
		outcomes = append(outcomes, Outcome{
			Value:  value,
			RuleID: rule.ID,
			Fee:    engine.ComputeFee(rule, amount),
		})
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Fee.LessThan(outcomes[j].Fee)
	})
	return outcomes
}
