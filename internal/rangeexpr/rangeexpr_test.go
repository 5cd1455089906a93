package rangeexpr

import (
	"testing"
)

func TestParseWildcard(t *testing.T) {
	for _, s := range []string{"", "null", "  ", " NULL "} {
		e, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if !e.IsWildcard() {
			t.Errorf("Parse(%q) should be wildcard", s)
		}
		if !e.Evaluate(Number(42)) || !e.Evaluate(Text("manual")) {
			t.Errorf("wildcard %q must match any value", s)
		}
	}
}

func TestParseUnits(t *testing.T) {
	cases := []struct {
		expr   string
		actual float64
		want   bool
	}{
		{"100k", 100000.0, true},
		{"100k", 100001.0, false},
		{"1m", 1000000.0, true},
		{"8.3%", 0.083, true},
		{"8.3%", 8.3, false},
		{"100k-1m", 500000, true},
		{"100k-1m", 99999, false},
		{"7.7%-8.3%", 0.08, true},
		{"7.7%-8.3%", 0.09, false},
		{">5", 7, true},
		{"<3", 2, true},
		{"3-5", 4, true},
	}
	for _, c := range cases {
		e, err := Parse(c.expr)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", c.expr, err)
		}
		if got := e.Evaluate(Number(c.actual)); got != c.want {
			t.Errorf("Parse(%q).Evaluate(%v) = %v, want %v", c.expr, c.actual, got, c.want)
		}
	}
}

func TestBoundaries(t *testing.T) {
	between := MustParse("100k-1m")
	if !between.Evaluate(Number(100000)) {
		t.Error("X-Y must include lower bound X")
	}
	if !between.Evaluate(Number(1000000)) {
		t.Error("X-Y must include upper bound Y")
	}
	if between.Evaluate(Number(99999.99)) || between.Evaluate(Number(1000000.01)) {
		t.Error("X-Y must exclude values outside [X, Y]")
	}

	gt := MustParse(">5")
	if gt.Evaluate(Number(5)) {
		t.Error(">X must be false at exactly X")
	}
	if !gt.Evaluate(Number(5.01)) {
		t.Error(">X must be true just above X")
	}

	lt := MustParse("<3")
	if lt.Evaluate(Number(3)) {
		t.Error("<X must be false at exactly X")
	}
	if !lt.Evaluate(Number(2.99)) {
		t.Error("<X must be true just below X")
	}
}

func TestCategorical(t *testing.T) {
	e := MustParse("manual")
	if !e.Evaluate(Text("manual")) {
		t.Error("categorical must match equal word")
	}
	if !e.Evaluate(Text("Manual")) {
		t.Error("categorical match is case-insensitive")
	}
	if e.Evaluate(Text("immediate")) {
		t.Error("categorical must not match different word")
	}
}

func TestKindMismatch(t *testing.T) {
	// Numeric expression vs categorical actual: never matches, never panics.
	gt := MustParse(">5")
	if gt.Evaluate(Text("manual")) {
		t.Error("numeric expr vs categorical actual must be false")
	}

	// Categorical expression vs numeric actual.
	word := MustParse("immediate")
	if word.Evaluate(Number(7)) {
		t.Error("categorical expr vs numeric actual must be false")
	}
}

func TestExactNumeric(t *testing.T) {
	e := MustParse("3")
	if !e.Evaluate(Number(3)) {
		t.Error("bare literal must match exact value")
	}
	if e.Evaluate(Number(3.5)) {
		t.Error("bare literal must not match other values")
	}
}

func TestStripping(t *testing.T) {
	cases := []struct {
		expr   string
		actual float64
	}{
		{"€1,000", 1000},
		{"$2,500.50", 2500.50},
		{" 100k - 1m ", 500000},
	}
	for _, c := range cases {
		e, err := Parse(c.expr)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", c.expr, err)
		}
		if !e.Evaluate(Number(c.actual)) {
			t.Errorf("Parse(%q) should match %v", c.expr, c.actual)
		}
	}
}

func TestMalformed(t *testing.T) {
	for _, s := range []string{"<abc", ">", "1x", "5-3", "12abc", "1-2-3"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestParseValue(t *testing.T) {
	if v := ParseValue("7"); v.Kind() != KindNumber {
		t.Error(`ParseValue("7") should be numeric`)
	}
	if v := ParseValue("manual"); v.Kind() != KindText {
		t.Error(`ParseValue("manual") should be text`)
	}
	if !MustParse(">5").Evaluate(ParseValue("7")) {
		t.Error(`">5" should match day count "7"`)
	}
	if MustParse(">5").Evaluate(ParseValue("manual")) {
		t.Error(`">5" should not match "manual"`)
	}
}

func TestDeterminism(t *testing.T) {
	e := MustParse("7.7%-8.3%")
	v := Number(0.08)
	first := e.Evaluate(v)
	for i := 0; i < 100; i++ {
		if e.Evaluate(v) != first {
			t.Fatal("Evaluate must be deterministic")
		}
	}
}
