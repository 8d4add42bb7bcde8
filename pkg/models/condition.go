package models

// Operator is a comparison applied by a leaf condition
type Operator string

const (
	OperatorEquals         Operator = "equals"
	OperatorNotEquals      Operator = "not_equals"
	OperatorContains       Operator = "contains"
	OperatorNotContains    Operator = "not_contains"
	OperatorGreaterThan    Operator = "greater_than"
	OperatorLessThan       Operator = "less_than"
	OperatorGreaterOrEqual Operator = "greater_or_equal"
	OperatorLessOrEqual    Operator = "less_or_equal"
	OperatorExists         Operator = "exists"
	OperatorNotExists      Operator = "not_exists"
)

// Combinator joins the children of a group condition
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// ConditionKind distinguishes leaf conditions from groups
type ConditionKind string

const (
	ConditionKindLeaf  ConditionKind = "leaf"
	ConditionKindGroup ConditionKind = "group"
)

// Condition is either a leaf comparison or a group of nested conditions.
//
// A leaf compares the value at Field against Value using Operator, or evaluates
// a JMESPath Expression for truthiness. A group combines Conditions with
// Combinator, in declaration order.
type Condition struct {
	// Leaf
	Field      string   `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any      `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Group
	Combinator Combinator  `json:"combinator,omitempty" yaml:"combinator,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Kind reports whether the condition is a group or a leaf
func (c Condition) Kind() ConditionKind {
	if c.Combinator != "" || c.Conditions != nil {
		return ConditionKindGroup
	}
	return ConditionKindLeaf
}

// Leaf builds a field comparison
func Leaf(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// All builds an AND group
func All(conditions ...Condition) Condition {
	return Condition{Combinator: CombinatorAnd, Conditions: conditions}
}

// Any builds an OR group
func Any(conditions ...Condition) Condition {
	return Condition{Combinator: CombinatorOr, Conditions: conditions}
}
