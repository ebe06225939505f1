package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// Operator is a comparison operator of a trigger condition.
type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
)

// CounterName is the only operand the condition grammar supports.
const CounterName = "count"

// operators is ordered so two-character operators match before their prefixes.
var operators = []Operator{OpGTE, OpLTE, OpEQ, OpGT, OpLT}

// Condition is the parsed form of a trigger such as "count >= 3".
type Condition struct {
	Operand   string
	Operator  Operator
	Threshold int64
}

// ParseCondition parses "<operand> <operator> <non-negative integer>".
// Whitespace around tokens is optional.
func ParseCondition(expr string) (Condition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Condition{}, fmt.Errorf("%w: empty expression", domain.ErrInvalidCondition)
	}

	for _, op := range operators {
		idx := strings.Index(trimmed, string(op))
		if idx < 0 {
			continue
		}

		operand := strings.TrimSpace(trimmed[:idx])
		rawThreshold := strings.TrimSpace(trimmed[idx+len(op):])

		if operand != CounterName {
			return Condition{}, fmt.Errorf("%w: unknown operand %q in %q", domain.ErrInvalidCondition, operand, expr)
		}
		if !allDigits(rawThreshold) {
			return Condition{}, fmt.Errorf("%w: threshold must be a non-negative integer in %q", domain.ErrInvalidCondition, expr)
		}
		threshold, err := strconv.ParseInt(rawThreshold, 10, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: threshold must be a non-negative integer in %q", domain.ErrInvalidCondition, expr)
		}

		return Condition{Operand: operand, Operator: op, Threshold: threshold}, nil
	}

	return Condition{}, fmt.Errorf("%w: no comparison operator in %q", domain.ErrInvalidCondition, expr)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Matches evaluates the condition against the aggregated counter.
func (c Condition) Matches(count int64) bool {
	switch c.Operator {
	case OpGTE:
		return count >= c.Threshold
	case OpGT:
		return count > c.Threshold
	case OpLTE:
		return count <= c.Threshold
	case OpLT:
		return count < c.Threshold
	case OpEQ:
		return count == c.Threshold
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %d", c.Operand, c.Operator, c.Threshold)
}
