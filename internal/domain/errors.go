package domain

import (
	"errors"
	"fmt"
)

// ErrNoApplicableRule is returned when no catalog entry matches a context.
// Callers decide whether that is fatal, skipped, or logged; it is never
// swallowed into a zero fee.
var ErrNoApplicableRule = errors.New("no applicable fee rule")

// ErrUnknownTopic is returned by the event bus for any topic outside the
// assessment lifecycle.
var ErrUnknownTopic = errors.New("unknown event topic")

// ErrBusClosed is returned for operations on a closed event bus.
var ErrBusClosed = errors.New("event bus is closed")

// RuleDefinitionError reports a malformed range expression or inconsistent
// rule shape. It is detected at catalog load time and rejects the whole load;
// the matching path never raises it.
type RuleDefinitionError struct {
	RuleID int64
	Field  string
	Reason string
}

func (e *RuleDefinitionError) Error() string {
	return fmt.Sprintf("rule %d: invalid %s: %s", e.RuleID, e.Field, e.Reason)
}

// IsRuleDefinitionError reports whether err wraps a RuleDefinitionError.
func IsRuleDefinitionError(err error) bool {
	var rde *RuleDefinitionError
	return errors.As(err, &rde)
}
