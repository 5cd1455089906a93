// Package rangeexpr parses and evaluates the constraint-field grammar used by
// fee catalog rules: wildcards, categorical words, comparator expressions
// ("<3", ">5"), inclusive ranges ("100k-1m", "7.7%-8.3%") and bare numeric
// literals, with k/m/% unit suffixes.
//
// Parsing is strict and happens once at catalog load; evaluation never fails.
// Comparing a categorical actual value against a numeric expression (or the
// reverse) is a kind mismatch and evaluates to false by an explicit branch,
// never via a recovered error.
package rangeexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two value kinds an actual value can take.
type Kind int

const (
	KindNumber Kind = iota
	KindText
)

// Value is the actual value an expression is evaluated against: either a
// number or a categorical string.
type Value struct {
	kind Kind
	num  float64
	text string
}

// Number builds a numeric Value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Text builds a categorical Value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// ParseValue builds a Value from a string, numeric if it parses as a plain
// number. Merchant capture-delay configuration arrives this way: "manual"
// stays categorical, "7" becomes the number 7.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return Text(s)
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

type op int

const (
	opAny     op = iota // wildcard: absent or empty expression
	opWord              // categorical equality
	opEqual             // exact numeric equality
	opLess              // strict <
	opGreater           // strict >
	opBetween           // inclusive X-Y
)

// Expr is a parsed constraint expression. The zero value is the wildcard.
type Expr struct {
	raw  string
	op   op
	word string
	lo   float64
	hi   float64
}

// IsWildcard reports whether the expression matches everything.
func (e Expr) IsWildcard() bool { return e.op == opAny }

// String returns the original expression text.
func (e Expr) String() string { return e.raw }

// Parse parses a constraint expression. The grammar is case-insensitive and
// whitespace-trimmed; thousands separators and currency symbols are stripped
// from numeric literals. Empty input and "null" parse to the wildcard.
// A malformed expression is a load-time configuration error; callers wrap it
// into a RuleDefinitionError.
func Parse(s string) (Expr, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))

	if s == "" || s == "null" {
		return Expr{raw: raw, op: opAny}, nil
	}

	switch {
	case strings.HasPrefix(s, "<"):
		n, err := parseNumber(s[1:])
		if err != nil {
			return Expr{}, err
		}
		return Expr{raw: raw, op: opLess, hi: n}, nil

	case strings.HasPrefix(s, ">"):
		n, err := parseNumber(s[1:])
		if err != nil {
			return Expr{}, err
		}
		return Expr{raw: raw, op: opGreater, lo: n}, nil
	}

	// A bare word with no digits is a categorical constraint ("manual",
	// "immediate"). Checked before the range split so hyphenated words
	// survive.
	if !strings.ContainsAny(s, "0123456789") {
		return Expr{raw: raw, op: opWord, word: s}, nil
	}

	// X-Y range: split on the first '-' past position 0 so a leading minus
	// sign is never mistaken for a range separator.
	if i := strings.Index(s[1:], "-"); i >= 0 {
		i++
		lo, err := parseNumber(s[:i])
		if err != nil {
			return Expr{}, err
		}
		hi, err := parseNumber(s[i+1:])
		if err != nil {
			return Expr{}, err
		}
		if lo > hi {
			return Expr{}, fmt.Errorf("inverted range %q: %v > %v", raw, lo, hi)
		}
		return Expr{raw: raw, op: opBetween, lo: lo, hi: hi}, nil
	}

	n, err := parseNumber(s)
	if err != nil {
		return Expr{}, err
	}
	return Expr{raw: raw, op: opEqual, lo: n}, nil
}

// MustParse is Parse for static expressions in tests and fixtures.
func MustParse(s string) Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

var stripper = strings.NewReplacer(",", "", "€", "", "$", "", " ", "")

// parseNumber parses one numeric literal with an optional unit suffix:
// % divides by 100 (percent rules are normalized to 0-1 ratios at parse
// time), k multiplies by 1e3, m by 1e6. Suffixes are mutually exclusive.
func parseNumber(s string) (float64, error) {
	s = stripper.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty numeric literal")
	}

	mult := 1.0
	switch s[len(s)-1] {
	case '%':
		mult = 0.01
		s = s[:len(s)-1]
	case 'k':
		mult = 1e3
		s = s[:len(s)-1]
	case 'm':
		mult = 1e6
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric literal %q", s)
	}
	return f * mult, nil
}

// Evaluate applies the expression to an actual value. Kind mismatches
// (categorical actual vs numeric expression, or the reverse) return false.
func (e Expr) Evaluate(v Value) bool {
	switch e.op {
	case opAny:
		return true

	case opWord:
		if v.kind != KindText {
			// Kind mismatch: numeric actual never equals a categorical word.
			return false
		}
		return strings.EqualFold(strings.TrimSpace(v.text), e.word)
	}

	if v.kind != KindNumber {
		// Kind mismatch: categorical actual never satisfies a numeric
		// expression.
		return false
	}

	switch e.op {
	case opEqual:
		return v.num == e.lo
	case opLess:
		return v.num < e.hi
	case opGreater:
		return v.num > e.lo
	case opBetween:
		return v.num >= e.lo && v.num <= e.hi
	}
	return false
}
