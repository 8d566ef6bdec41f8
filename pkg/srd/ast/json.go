package ast

import (
	"encoding/json"
)

// The interchange format tags every node with an explicit type
// discriminator and nests its fields under __contents__. This is a
// one-way export for the downstream prioritization engine; nothing here
// deserializes the document back into an AST.

type taggedNode struct {
	Type     string `json:"__type__"`
	Contents any    `json:"__contents__"`
}

func tagged(typeName string, contents any) ([]byte, error) {
	return json.Marshal(taggedNode{Type: typeName, Contents: contents})
}

func (lc *LogicalConstant) MarshalJSON() ([]byte, error) {
	return tagged("LogicalConstant", map[string]any{
		"value": lc.Value,
	})
}

func (ln *LogicalNot) MarshalJSON() ([]byte, error) {
	return tagged("LogicalNot", map[string]any{
		"expression": ln.Expression,
	})
}

func (be *BinaryLogicalExpression) MarshalJSON() ([]byte, error) {
	return tagged("BinaryLogicalExpression", map[string]any{
		"operator":         be.Operator,
		"left_expression":  be.Left,
		"right_expression": be.Right,
	})
}

func (ce *ComparatorExpression) MarshalJSON() ([]byte, error) {
	return tagged("ComparatorExpression", map[string]any{
		"comparator":       ce.Comparator,
		"left_expression":  ce.Left,
		"right_expression": ce.Right,
	})
}

func (ee *ExistentialExpression) MarshalJSON() ([]byte, error) {
	return tagged("ExistentialExpression", map[string]any{
		"variable":   ee.Variable,
		"expression": ee.Expression,
	})
}

func (sc *StringConstant) MarshalJSON() ([]byte, error) {
	return tagged("StringConstant", map[string]any{
		"value": sc.Value,
	})
}

func (ce *ConstExpression) MarshalJSON() ([]byte, error) {
	return tagged("ConstExpression", map[string]any{
		"value": ce.Value,
	})
}

func (be *BinaryExpression) MarshalJSON() ([]byte, error) {
	return tagged("BinaryExpression", map[string]any{
		"operator":         be.Operator,
		"left_expression":  be.Left,
		"right_expression": be.Right,
	})
}

func (me *MinusExpression) MarshalJSON() ([]byte, error) {
	return tagged("MinusExpression", map[string]any{
		"expression": me.Expression,
	})
}

func (f *Field) MarshalJSON() ([]byte, error) {
	return tagged("Field", map[string]any{
		"variable_name": f.VariableName,
		"field_name":    f.FieldName,
	})
}

func (r *Rule) MarshalJSON() ([]byte, error) {
	return tagged("Rule", map[string]any{
		"variables":        r.Variables,
		"application":      r.Application,
		"adjustment":       r.Adjustment,
		"max_applications": r.MaxApplications,
	})
}

func (c *Constraint) MarshalJSON() ([]byte, error) {
	contents := map[string]any{
		"variables":        c.Variables,
		"application":      c.Application,
		"constraint_value": c.ConstraintValue,
	}
	if c.SumField != nil {
		contents["sum_field"] = c.SumField
	} else {
		contents["sum_field"] = nil
	}
	return tagged("Constraint", contents)
}

func (d *Declarations) MarshalJSON() ([]byte, error) {
	rules := d.Rules
	if rules == nil {
		rules = []*Rule{}
	}
	constraints := d.Constraints
	if constraints == nil {
		constraints = []*Constraint{}
	}
	return json.Marshal(map[string]any{
		"rules":       rules,
		"constraints": constraints,
	})
}

func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.Bins)
}
