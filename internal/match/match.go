// Package match compiles fee rules and evaluates them against transaction
// contexts. A compiled rule parses its range expressions and CEL guard once,
// at catalog load time, so the matching path is allocation-light and never
// errors.
package match

import (
	"fmt"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/rangeexpr"
)

// CompiledRule is a FeeRule with its constraint fields parsed for matching.
type CompiledRule struct {
	Rule *domain.FeeRule

	accountTypes map[string]struct{}
	mccs         map[int]struct{}
	acis         map[string]struct{}

	captureDelay  rangeexpr.Expr
	monthlyVolume rangeexpr.Expr
	fraudLevel    rangeexpr.Expr

	guard cel.Program // nil when the rule has no expression
}

// NewEnv creates the CEL environment rule guard expressions compile against.
// Variables mirror the TransactionContext fields.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("card_scheme", cel.StringType),
		cel.Variable("account_type", cel.StringType),
		cel.Variable("merchant_category_code", cel.IntType),
		cel.Variable("aci", cel.StringType),
		cel.Variable("is_credit", cel.BoolType),
		cel.Variable("intracountry", cel.BoolType),
		cel.Variable("capture_delay", cel.StringType),
		cel.Variable("monthly_volume", cel.DoubleType),
		cel.Variable("monthly_fraud_rate", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Compile parses a rule's constraint fields. Any malformed range expression
// or guard is a RuleDefinitionError; nothing is deferred to evaluation time.
func Compile(rule *domain.FeeRule, env *cel.Env) (*CompiledRule, error) {
	c := &CompiledRule{Rule: rule}

	if len(rule.AccountType) > 0 {
		c.accountTypes = make(map[string]struct{}, len(rule.AccountType))
		for _, at := range rule.AccountType {
			c.accountTypes[at] = struct{}{}
		}
	}
	if len(rule.MerchantCategoryCode) > 0 {
		c.mccs = make(map[int]struct{}, len(rule.MerchantCategoryCode))
		for _, mcc := range rule.MerchantCategoryCode {
			c.mccs[mcc] = struct{}{}
		}
	}
	if len(rule.ACI) > 0 {
		c.acis = make(map[string]struct{}, len(rule.ACI))
		for _, aci := range rule.ACI {
			c.acis[aci] = struct{}{}
		}
	}

	var err error
	if c.captureDelay, err = rangeexpr.Parse(rule.CaptureDelay); err != nil {
		return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "capture_delay", Reason: err.Error()}
	}
	if c.monthlyVolume, err = rangeexpr.Parse(rule.MonthlyVolume); err != nil {
		return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "monthly_volume", Reason: err.Error()}
	}
	if c.fraudLevel, err = rangeexpr.Parse(rule.MonthlyFraudLevel); err != nil {
		return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "monthly_fraud_level", Reason: err.Error()}
	}

	if rule.Expression != "" {
		if env == nil {
			return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "expression", Reason: "no CEL environment configured"}
		}
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "expression", Reason: issues.Err().Error()}
		}
		if ast.OutputType() != cel.BoolType {
			return nil, &domain.RuleDefinitionError{
				RuleID: rule.ID,
				Field:  "expression",
				Reason: fmt.Sprintf("guard must return bool, got %s", ast.OutputType()),
			}
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, &domain.RuleDefinitionError{RuleID: rule.ID, Field: "expression", Reason: err.Error()}
		}
		c.guard = prog
	}

	return c, nil
}

// Matches is a pure predicate: all present constraints must hold. Fields are
// checked cheapest first; the first failing field short-circuits. Order does
// not affect the result since this is a plain conjunction.
func (c *CompiledRule) Matches(tc *domain.TransactionContext) bool {
	r := c.Rule

	if r.CardScheme != "" && r.CardScheme != tc.CardScheme {
		return false
	}

	if c.accountTypes != nil {
		if _, ok := c.accountTypes[tc.AccountType]; !ok {
			return false
		}
	}
	if c.mccs != nil {
		if _, ok := c.mccs[tc.MerchantCategoryCode]; !ok {
			return false
		}
	}
	if c.acis != nil {
		if _, ok := c.acis[tc.ACI]; !ok {
			return false
		}
	}

	if !r.IsCredit.Matches(tc.IsCredit) {
		return false
	}
	if !r.Intracountry.Matches(tc.Intracountry) {
		return false
	}

	if !c.captureDelay.Evaluate(rangeexpr.ParseValue(tc.CaptureDelay)) {
		return false
	}
	if !c.monthlyVolume.Evaluate(rangeexpr.Number(tc.MonthlyVolume)) {
		return false
	}
	if !c.fraudLevel.Evaluate(rangeexpr.Number(tc.MonthlyFraudRate)) {
		return false
	}

	if c.guard != nil {
		out, _, err := c.guard.Eval(activation(tc))
		if err != nil {
			// Guards are type-checked at compile time; a runtime failure
			// means the guard cannot assert its constraint, so the rule
			// does not apply.
			return false
		}
		if b, ok := out.(celtypes.Bool); !ok || !bool(b) {
			return false
		}
	}

	return true
}

func activation(tc *domain.TransactionContext) map[string]any {
	return map[string]any{
		"card_scheme":            tc.CardScheme,
		"account_type":           tc.AccountType,
		"merchant_category_code": int64(tc.MerchantCategoryCode),
		"aci":                    tc.ACI,
		"is_credit":              tc.IsCredit,
		"intracountry":           tc.Intracountry,
		"capture_delay":          tc.CaptureDelay,
		"monthly_volume":         tc.MonthlyVolume,
		"monthly_fraud_rate":     tc.MonthlyFraudRate,
		"amount":                 tc.Amount,
	}
}
