// Package trigger evaluates price conditions that gate a workflow run.
package trigger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator compares the current price with a threshold.
type Operator string

const (
	GT Operator = "GT"
	LT Operator = "LT"
)

// ParseOperator accepts the canonical names and the symbolic forms
// produced by editors and the intent parser.
func ParseOperator(raw string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "GT", ">":
		return GT, nil
	case "LT", "<":
		return LT, nil
	default:
		return "", fmt.Errorf("unknown trigger operator %q", raw)
	}
}

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	return op == GT || op == LT
}

// Symbol returns the comparison as it is shown to users.
func (op Operator) Symbol() string {
	switch op {
	case GT:
		return ">"
	case LT:
		return "<"
	default:
		return "?"
	}
}

// UnmarshalJSON normalises symbolic operators on decode.
func (op *Operator) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseOperator(raw)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// Evaluate reports whether price strictly crosses threshold in the direction
// of op. Equality never fires and unknown operators never fire.
func Evaluate(price decimal.Decimal, op Operator, threshold decimal.Decimal) bool {
	switch op {
	case GT:
		return price.GreaterThan(threshold)
	case LT:
		return price.LessThan(threshold)
	default:
		return false
	}
}

// Condition bundles an operator with its threshold.
type Condition struct {
	Operator  Operator        `json:"operator"`
	Threshold decimal.Decimal `json:"threshold"`
}

// Met evaluates the condition against price.
func (c Condition) Met(price decimal.Decimal) bool {
	return Evaluate(price, c.Operator, c.Threshold)
}

func (c Condition) String() string {
	return fmt.Sprintf("price %s %s", c.Operator.Symbol(), c.Threshold.String())
}
