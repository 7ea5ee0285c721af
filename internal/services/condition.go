package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Condition is a recursive condition tree. A node is either a leaf
// {field, operator, value} or exactly one of and/or/not.
type Condition struct {
	Field    string      `json:"field,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`

	And []*Condition `json:"and,omitempty"`
	Or  []*Condition `json:"or,omitempty"`
	Not *Condition   `json:"not,omitempty"`
}

// 支持的叶子操作符
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpGreaterThan    = "greater_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessThan       = "less_than"
	OpLessOrEqual    = "less_or_equal"
	OpIn             = "in"
	OpNotIn          = "not_in"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
	OpIsNull         = "is_null"
	OpIsNotNull      = "is_not_null"
)

var knownOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpGreaterThan: true, OpGreaterOrEqual: true,
	OpLessThan: true, OpLessOrEqual: true,
	OpIn: true, OpNotIn: true,
	OpIsEmpty: true, OpIsNotEmpty: true,
	OpIsNull: true, OpIsNotNull: true,
}

// ParseCondition decodes a condition document. Empty input yields a
// nil condition, which always evaluates to true.
func ParseCondition(raw string) (*Condition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var cond Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		return nil, fmt.Errorf("invalid condition document: %w", err)
	}
	return &cond, nil
}

// Validate checks the tree once at rule-save time so runtime
// evaluation never has to raise.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	if c.Not != nil {
		return c.Not.Validate()
	}
	if c.And != nil {
		for _, sub := range c.And {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Or != nil {
		for _, sub := range c.Or {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Field == "" {
		return fmt.Errorf("condition leaf requires a field")
	}
	if !knownOperators[c.Operator] {
		return fmt.Errorf("unknown operator: %s", c.Operator)
	}
	return nil
}

// Evaluate walks the tree against an entity snapshot. Any internal
// error counts as false; this never panics outward.
func (c *Condition) Evaluate(snapshot map[string]interface{}) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()
	return c.evaluate(snapshot)
}

func (c *Condition) evaluate(snapshot map[string]interface{}) bool {
	if c == nil {
		return true
	}
	if c.Not != nil {
		return !c.Not.evaluate(snapshot)
	}
	if c.And != nil {
		for _, sub := range c.And {
			if !sub.evaluate(snapshot) {
				return false
			}
		}
		return true
	}
	if c.Or != nil {
		for _, sub := range c.Or {
			if sub.evaluate(snapshot) {
				return true
			}
		}
		return false
	}
	actual, _ := lookupPath(snapshot, c.Field)
	return evaluateLeaf(c.Operator, actual, c.Value)
}

// lookupPath resolves a dot path ("contract.customer") through nested
// maps. A missing segment resolves to nil.
func lookupPath(snapshot map[string]interface{}, path string) (interface{}, bool) {
	if snapshot == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current interface{} = snapshot
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func evaluateLeaf(operator string, actual, expected interface{}) bool {
	switch operator {
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	case OpIsEmpty:
		return isEmptyValue(actual)
	case OpIsNotEmpty:
		return !isEmptyValue(actual)
	}

	// 其余操作符对 null 一律不成立
	if actual == nil {
		return false
	}

	switch operator {
	case OpEquals:
		return looseEqual(actual, expected)
	case OpNotEquals:
		return !looseEqual(actual, expected)
	case OpContains:
		return strings.Contains(asString(actual), asString(expected))
	case OpNotContains:
		return !strings.Contains(asString(actual), asString(expected))
	case OpStartsWith:
		return strings.HasPrefix(asString(actual), asString(expected))
	case OpEndsWith:
		return strings.HasSuffix(asString(actual), asString(expected))
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		return compareOrdered(operator, actual, expected)
	case OpIn:
		return valueIn(actual, expected)
	case OpNotIn:
		return !valueIn(actual, expected)
	default:
		return false
	}
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func looseEqual(a, b interface{}) bool {
	if fa, oka := asFloat(a); oka {
		if fb, okb := asFloat(b); okb {
			return fa == fb
		}
	}
	return asString(a) == asString(b)
}

func compareOrdered(operator string, actual, expected interface{}) bool {
	fa, oka := asFloat(actual)
	fb, okb := asFloat(expected)
	if !oka || !okb {
		// 非数值退化为字符串比较
		sa, sb := asString(actual), asString(expected)
		switch operator {
		case OpGreaterThan:
			return sa > sb
		case OpGreaterOrEqual:
			return sa >= sb
		case OpLessThan:
			return sa < sb
		case OpLessOrEqual:
			return sa <= sb
		}
		return false
	}
	switch operator {
	case OpGreaterThan:
		return fa > fb
	case OpGreaterOrEqual:
		return fa >= fb
	case OpLessThan:
		return fa < fb
	case OpLessOrEqual:
		return fa <= fb
	}
	return false
}

// valueIn treats a non-list right side as plain equality.
func valueIn(actual, expected interface{}) bool {
	list, ok := expected.([]interface{})
	if !ok {
		return looseEqual(actual, expected)
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
