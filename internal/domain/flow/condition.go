package flow

import (
	"fmt"

	"github.com/spf13/cast"
)

// Operator is a comparison operator usable in a node activation condition
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// IsValid returns true if the operator is one of the supported set
func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	default:
		return false
	}
}

// Condition gates the activation of a node. It is evaluated against the
// instance's form-data snapshot; a node whose condition evaluates false is
// skipped.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Evaluate applies the condition to the given form data. A missing field
// evaluates false for eq and the ordering operators, true for ne.
func (c *Condition) Evaluate(formData map[string]interface{}) (bool, error) {
	actual, ok := formData[c.Field]
	if !ok {
		return c.Operator == OpNe, nil
	}

	switch c.Operator {
	case OpEq, OpNe:
		eq := looselyEqual(actual, c.Value)
		if c.Operator == OpEq {
			return eq, nil
		}
		return !eq, nil
	case OpGt, OpGte, OpLt, OpLte:
		lhs, err := cast.ToFloat64E(actual)
		if err != nil {
			return false, fmt.Errorf("condition field %q is not numeric: %w", c.Field, err)
		}
		rhs, err := cast.ToFloat64E(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition value for %q is not numeric: %w", c.Field, err)
		}
		switch c.Operator {
		case OpGt:
			return lhs > rhs, nil
		case OpGte:
			return lhs >= rhs, nil
		case OpLt:
			return lhs < rhs, nil
		default:
			return lhs <= rhs, nil
		}
	default:
		return false, fmt.Errorf("%w: operator %q", ErrTemplateMalformed, c.Operator)
	}
}

// looselyEqual compares numerically when both sides cast to a number,
// otherwise by string form. JSON decoding turns all numbers into float64,
// so a template value of 5000 must match form data of 5000.0.
func looselyEqual(a, b interface{}) bool {
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return cast.ToString(a) == cast.ToString(b)
}
