package match

import (
	"testing"

	"github.com/opensource-finance/talon/internal/domain"
)

func compile(t *testing.T, rule *domain.FeeRule) *CompiledRule {
	t.Helper()
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("failed to create CEL environment: %v", err)
	}
	c, err := Compile(rule, env)
	if err != nil {
		t.Fatalf("failed to compile rule %d: %v", rule.ID, err)
	}
	return c
}

func baseContext() *domain.TransactionContext {
	return &domain.TransactionContext{
		CardScheme:           "GlobalCard",
		AccountType:          "H",
		MerchantCategoryCode: 5812,
		ACI:                  "C",
		IsCredit:             true,
		Intracountry:         false,
		CaptureDelay:         "manual",
		MonthlyVolume:        500000,
		MonthlyFraudRate:     0.08,
		Amount:               100,
	}
}

func TestWildcardRuleMatchesEverything(t *testing.T) {
	c := compile(t, &domain.FeeRule{ID: 1})

	contexts := []*domain.TransactionContext{
		baseContext(),
		{},
		{CardScheme: "Visa", CaptureDelay: "7", MonthlyVolume: 1},
	}
	for i, tc := range contexts {
		if !c.Matches(tc) {
			t.Errorf("context %d: all-wildcard rule must match every context", i)
		}
	}
}

func TestCardSchemeExactMatch(t *testing.T) {
	c := compile(t, &domain.FeeRule{ID: 1, CardScheme: "GlobalCard"})

	if !c.Matches(baseContext()) {
		t.Error("equal scheme must match")
	}
	tc := baseContext()
	tc.CardScheme = "Visa"
	if c.Matches(tc) {
		t.Error("different scheme must not match")
	}
}

func TestSetMembership(t *testing.T) {
	c := compile(t, &domain.FeeRule{
		ID:                   2,
		AccountType:          []string{"H", "R"},
		MerchantCategoryCode: []int{5812, 5813},
		ACI:                  []string{"A", "C"},
	})

	if !c.Matches(baseContext()) {
		t.Error("member values must match")
	}

	tc := baseContext()
	tc.AccountType = "D"
	if c.Matches(tc) {
		t.Error("non-member account type must not match")
	}

	tc = baseContext()
	tc.MerchantCategoryCode = 4111
	if c.Matches(tc) {
		t.Error("non-member MCC must not match")
	}

	tc = baseContext()
	tc.ACI = "F"
	if c.Matches(tc) {
		t.Error("non-member ACI must not match")
	}
}

func TestTriStateBooleans(t *testing.T) {
	credit := compile(t, &domain.FeeRule{ID: 3, IsCredit: domain.SetBool(true)})
	if !credit.Matches(baseContext()) {
		t.Error("is_credit=true must match credit context")
	}
	tc := baseContext()
	tc.IsCredit = false
	if credit.Matches(tc) {
		t.Error("is_credit=true must not match debit context")
	}

	domestic := compile(t, &domain.FeeRule{ID: 4, Intracountry: domain.SetBool(true)})
	if domestic.Matches(baseContext()) {
		t.Error("intracountry=true must not match cross-border context")
	}
	tc = baseContext()
	tc.Intracountry = true
	if !domestic.Matches(tc) {
		t.Error("intracountry=true must match domestic context")
	}
}

func TestCaptureDelay(t *testing.T) {
	numeric := compile(t, &domain.FeeRule{ID: 7, CaptureDelay: ">5"})

	tc := baseContext()
	tc.CaptureDelay = "7"
	if !numeric.Matches(tc) {
		t.Error(`capture_delay ">5" must match day count 7`)
	}

	tc.CaptureDelay = "manual"
	if numeric.Matches(tc) {
		t.Error(`capture_delay ">5" must not match "manual" (kind mismatch)`)
	}

	categorical := compile(t, &domain.FeeRule{ID: 8, CaptureDelay: "manual"})
	if !categorical.Matches(baseContext()) {
		t.Error(`capture_delay "manual" must match manual merchant`)
	}
	tc = baseContext()
	tc.CaptureDelay = "3"
	if categorical.Matches(tc) {
		t.Error(`capture_delay "manual" must not match numeric delay`)
	}
}

func TestVolumeAndFraudRanges(t *testing.T) {
	c := compile(t, &domain.FeeRule{
		ID:                5,
		MonthlyVolume:     "100k-1m",
		MonthlyFraudLevel: "7.7%-8.3%",
	})

	if !c.Matches(baseContext()) {
		t.Error("in-range volume and fraud rate must match")
	}

	tc := baseContext()
	tc.MonthlyVolume = 50000
	if c.Matches(tc) {
		t.Error("out-of-range volume must not match")
	}

	tc = baseContext()
	tc.MonthlyFraudRate = 0.09
	if c.Matches(tc) {
		t.Error("out-of-range fraud rate must not match")
	}
}

func TestCompileRejectsMalformedExpressions(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("failed to create CEL environment: %v", err)
	}

	bad := []*domain.FeeRule{
		{ID: 10, CaptureDelay: "<abc"},
		{ID: 11, MonthlyVolume: "1m-100k"},
		{ID: 12, MonthlyFraudLevel: ">"},
		{ID: 13, Expression: "this is not CEL !!!"},
		{ID: 14, Expression: "amount + 1.0"}, // non-bool guard
	}
	for _, rule := range bad {
		_, err := Compile(rule, env)
		if err == nil {
			t.Errorf("rule %d: expected compile error", rule.ID)
			continue
		}
		if !domain.IsRuleDefinitionError(err) {
			t.Errorf("rule %d: expected RuleDefinitionError, got %v", rule.ID, err)
		}
	}
}

func TestGuardExpression(t *testing.T) {
	c := compile(t, &domain.FeeRule{
		ID:         20,
		Expression: `amount > 50.0 && card_scheme == "GlobalCard"`,
	})

	if !c.Matches(baseContext()) {
		t.Error("satisfied guard must match")
	}

	tc := baseContext()
	tc.Amount = 10
	if c.Matches(tc) {
		t.Error("unsatisfied guard must not match")
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	c := compile(t, &domain.FeeRule{
		ID:            30,
		CardScheme:    "GlobalCard",
		MonthlyVolume: "100k-1m",
		CaptureDelay:  "manual",
	})
	tc := baseContext()

	first := c.Matches(tc)
	for i := 0; i < 100; i++ {
		if c.Matches(tc) != first {
			t.Fatal("Matches must be deterministic for fixed inputs")
		}
	}
}
