// Package engine provides the fee matching and calculation engine.
//
// The catalog precedence contract is explicit: rules are held sorted by
// ascending rule ID and MatchOne returns the first rule in that order whose
// constraints all hold (first-match-wins). MatchAll returns every applicable
// rule for callers that want the full set rather than the billed rule.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/match"
)

// Engine evaluates transaction contexts against an immutable fee catalog.
// The catalog is swapped atomically on (re)load and shared without locking
// during evaluation, so concurrent assessments need no coordination.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	catalog []*match.CompiledRule // ascending rule ID
	version string
}

// NewEngine creates an engine with an empty catalog.
func NewEngine(version string) (*Engine, error) {
	env, err := match.NewEnv()
	if err != nil {
		return nil, err
	}
	return &Engine{env: env, version: version}, nil
}

// LoadCatalog compiles and installs a fee catalog. Every rule must compile;
// the first malformed rule rejects the whole load and the previous catalog
// stays active. Duplicate rule IDs are rejected for the same reason: silently
// shadowed rules produce wrong fees.
func (e *Engine) LoadCatalog(rules []*domain.FeeRule) error {
	compiled := make([]*match.CompiledRule, 0, len(rules))
	seen := make(map[int64]struct{}, len(rules))

	for _, rule := range rules {
		if _, dup := seen[rule.ID]; dup {
			return &domain.RuleDefinitionError{RuleID: rule.ID, Field: "id", Reason: "duplicate rule ID"}
		}
		seen[rule.ID] = struct{}{}

		c, err := match.Compile(rule, e.env)
		if err != nil {
			return fmt.Errorf("catalog load rejected: %w", err)
		}
		compiled = append(compiled, c)
	}

	sortByID(compiled)

	e.mu.Lock()
	e.catalog = compiled
	e.mu.Unlock()

	return nil
}

// ReloadCatalog is LoadCatalog; the alias documents hot-reload call sites.
func (e *Engine) ReloadCatalog(rules []*domain.FeeRule) error {
	return e.LoadCatalog(rules)
}

// ValidateRule compiles a rule without touching the installed catalog.
func (e *Engine) ValidateRule(rule *domain.FeeRule) error {
	_, err := match.Compile(rule, e.env)
	return err
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.catalog)
}

// Rules returns the loaded rules in catalog order.
func (e *Engine) Rules() []*domain.FeeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FeeRule, len(e.catalog))
	for i, c := range e.catalog {
		rules[i] = c.Rule
	}
	return rules
}

// MatchOne returns the first rule, by ascending rule ID, matching the
// context. Returns ErrNoApplicableRule when no rule matches; a missing match
// is an explicit outcome, never a zero fee.
func (e *Engine) MatchOne(tc *domain.TransactionContext) (*domain.FeeRule, error) {
	e.mu.RLock()
	catalog := e.catalog
	e.mu.RUnlock()

	for _, c := range catalog {
		if c.Matches(tc) {
			return c.Rule, nil
		}
	}
	return nil, domain.ErrNoApplicableRule
}

// MatchAll returns the IDs of every rule matching the context, ascending.
func (e *Engine) MatchAll(tc *domain.TransactionContext) []int64 {
	e.mu.RLock()
	catalog := e.catalog
	e.mu.RUnlock()

	var ids []int64
	for _, c := range catalog {
		if c.Matches(tc) {
			ids = append(ids, c.Rule.ID)
		}
	}
	return ids
}

// ComputeFee calculates the fee a rule bills for an amount:
//
//	fee = fixed_amount + rate * amount / 10000
//
// Decimal arithmetic keeps the formula exact; Shift(-4) divides by 10000
// without rounding.
func ComputeFee(rule *domain.FeeRule, amount decimal.Decimal) decimal.Decimal {
	return rule.FixedAmount.Add(rule.Rate.Mul(amount).Shift(-4))
}

// Assess matches a context and computes the billed fee in one step. The
// returned assessment carries the billed rule, the fee, and the full set of
// applicable rule IDs.
func (e *Engine) Assess(tc *domain.TransactionContext, amount decimal.Decimal) (*domain.FeeAssessment, error) {
	start := time.Now()

	all := e.MatchAll(tc)
	if len(all) == 0 {
		return nil, domain.ErrNoApplicableRule
	}

	// First-match-wins: MatchAll returns ascending IDs, so the billed rule
	// is the head of the set.
	billed, err := e.ruleByID(all[0])
	if err != nil {
		return nil, err
	}

	return &domain.FeeAssessment{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		RuleID:          billed.ID,
		Amount:          amount,
		Fee:             ComputeFee(billed, amount),
		ApplicableRules: all,
		Metadata: domain.AssessmentMetadata{
			MatchMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: e.RuleCount(),
			EngineVersion:  e.version,
		},
	}, nil
}

func (e *Engine) ruleByID(id int64) (*domain.FeeRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.catalog {
		if c.Rule.ID == id {
			return c.Rule, nil
		}
	}
	return nil, fmt.Errorf("rule %d not in catalog", id)
}

func sortByID(rules []*match.CompiledRule) {
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Rule.ID < rules[j].Rule.ID
	})
}
