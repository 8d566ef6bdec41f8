// Package ast defines the abstract syntax tree for SRD (Rules Definition)
// programs and implements their evaluation against pools of ASDP records.
//
// All nodes are constructed once by the parser and are immutable
// thereafter; they hold no evaluation state, so a compiled tree may be
// shared across goroutines and applied to any number of pools.
//
// Evaluation cost is combinatorial: applying a Rule or Constraint over k
// variables to a pool of n records performs O(n^k) expression
// evaluations in the worst case. Only a Rule's MAXIMUM APPLICATIONS cap
// bounds this below n^k.
package ast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	srderrors "github.com/srdtools/srd/pkg/srd/errors"
)

// Record is an ASDP: an opaque, caller-owned mapping from field name to
// a scalar value (float64 or string). It must contain an "id" field,
// used only for reporting which tuple triggered a rule.
type Record map[string]any

// Pool is an ordered collection of candidate records. Iteration order is
// significant: a Rule with an application cap stops early, so its result
// depends on pool order.
type Pool []Record

// Assignment binds variable names to records for one candidate tuple.
type Assignment map[string]Record

// VarSet is a set of variable names.
type VarSet map[string]struct{}

func (s VarSet) union(other VarSet) VarSet {
	out := make(VarSet, len(s)+len(other))
	for v := range s {
		out[v] = struct{}{}
	}
	for v := range other {
		out[v] = struct{}{}
	}
	return out
}

func (s VarSet) contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Node is the capability set shared by every expression variant.
type Node interface {
	// String renders the node in SRD surface syntax.
	String() string
	// Validate checks that every field reference uses a variable from
	// the enclosing declaration's scope.
	Validate(scope []string) error
	// ExposedVariables returns the free variables of the expression.
	ExposedVariables() VarSet
}

// BoolExpression is an expression producing a boolean.
type BoolExpression interface {
	Node
	EvalBool(assignment Assignment, pool Pool) (bool, error)
	boolExpr()
}

// ValueExpression is an expression producing a number or string.
type ValueExpression interface {
	Node
	EvalValue(assignment Assignment, pool Pool) (any, error)
	valueExpr()
}

func inScope(scope []string, name string) bool {
	for _, s := range scope {
		if s == name {
			return true
		}
	}
	return false
}

// toNumber normalizes a scalar to float64, reporting ok=false for
// non-numeric values.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ----------------------------------------------------------------------------
// Boolean expression variants
// ----------------------------------------------------------------------------

// LogicalConstant is a TRUE or FALSE literal.
type LogicalConstant struct {
	Value bool
}

func (lc *LogicalConstant) boolExpr() {}
func (lc *LogicalConstant) Validate(_ []string) error { return nil }
func (lc *LogicalConstant) ExposedVariables() VarSet { return VarSet{} }
func (lc *LogicalConstant) EvalBool(_ Assignment, _ Pool) (bool, error) {
	return lc.Value, nil
}
func (lc *LogicalConstant) String() string {
	if lc.Value {
		return "TRUE"
	}
	return "FALSE"
}

// LogicalNot negates an inner boolean expression.
type LogicalNot struct {
	Expression BoolExpression
}

func (ln *LogicalNot) boolExpr() {}
func (ln *LogicalNot) Validate(scope []string) error {
	return ln.Expression.Validate(scope)
}
func (ln *LogicalNot) ExposedVariables() VarSet {
	return ln.Expression.ExposedVariables()
}
func (ln *LogicalNot) EvalBool(assignment Assignment, pool Pool) (bool, error) {
	value, err := ln.Expression.EvalBool(assignment, pool)
	if err != nil {
		return false, err
	}
	return !value, nil
}
func (ln *LogicalNot) String() string {
	return "NOT " + ln.Expression.String()
}

// BinaryLogicalExpression combines two boolean expressions with AND/OR.
type BinaryLogicalExpression struct {
	Operator string // "AND" or "OR"
	Left     BoolExpression
	Right    BoolExpression
}

// EvalLogicalOp applies AND/OR to two boolean values. Shared between
// node evaluation and the parser's constant folding.
func EvalLogicalOp(operator string, left, right bool) (bool, error) {
	switch operator {
	case "AND":
		return left && right, nil
	case "OR":
		return left || right, nil
	}
	return false, srderrors.NewSimple(srderrors.ClassValue,
		fmt.Sprintf("unknown logical operator %q", operator))
}

func (be *BinaryLogicalExpression) boolExpr() {}
func (be *BinaryLogicalExpression) Validate(scope []string) error {
	if err := be.Left.Validate(scope); err != nil {
		return err
	}
	return be.Right.Validate(scope)
}
func (be *BinaryLogicalExpression) ExposedVariables() VarSet {
	return be.Left.ExposedVariables().union(be.Right.ExposedVariables())
}
func (be *BinaryLogicalExpression) EvalBool(assignment Assignment, pool Pool) (bool, error) {
	left, err := be.Left.EvalBool(assignment, pool)
	if err != nil {
		return false, err
	}
	right, err := be.Right.EvalBool(assignment, pool)
	if err != nil {
		return false, err
	}
	return EvalLogicalOp(be.Operator, left, right)
}
func (be *BinaryLogicalExpression) String() string {
	return "(" + be.Left.String() + " " + be.Operator + " " + be.Right.String() + ")"
}

// ComparatorExpression compares two value expressions, producing a
// boolean. Both sides must evaluate to the same scalar kind for the
// ordering comparators; equality across kinds is defined (never equal).
type ComparatorExpression struct {
	Comparator string // < <= > >= == !=
	Left       ValueExpression
	Right      ValueExpression
}

// EvalComparator applies a comparator to two scalar values. Shared
// between node evaluation and the parser's constant folding.
func EvalComparator(comparator string, left, right any) (bool, error) {
	if lf, lok := toNumber(left); lok {
		if rf, rok := toNumber(right); rok {
			return compareNumbers(comparator, lf, rf)
		}
	}
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			return compareStrings(comparator, ls, rs)
		}
	}

	// Mixed kinds: equality is decidable, ordering is not.
	switch comparator {
	case "==":
		return false, nil
	case "!=":
		return true, nil
	}
	return false, srderrors.New("VALUE-0001", map[string]any{
		"LeftType":   typeName(left),
		"RightType":  typeName(right),
		"Comparator": comparator,
	})
}

func compareNumbers(comparator string, left, right float64) (bool, error) {
	switch comparator {
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, srderrors.NewSimple(srderrors.ClassValue,
		fmt.Sprintf("unknown comparator %q", comparator))
}

func compareStrings(comparator string, left, right string) (bool, error) {
	switch comparator {
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, srderrors.NewSimple(srderrors.ClassValue,
		fmt.Sprintf("unknown comparator %q", comparator))
}

func typeName(v any) string {
	if _, ok := toNumber(v); ok {
		return "number"
	}
	if _, ok := v.(string); ok {
		return "string"
	}
	return fmt.Sprintf("%T", v)
}

func (ce *ComparatorExpression) boolExpr() {}
func (ce *ComparatorExpression) Validate(scope []string) error {
	if err := ce.Left.Validate(scope); err != nil {
		return err
	}
	return ce.Right.Validate(scope)
}
func (ce *ComparatorExpression) ExposedVariables() VarSet {
	return ce.Left.ExposedVariables().union(ce.Right.ExposedVariables())
}
func (ce *ComparatorExpression) EvalBool(assignment Assignment, pool Pool) (bool, error) {
	left, err := ce.Left.EvalValue(assignment, pool)
	if err != nil {
		return false, err
	}
	right, err := ce.Right.EvalValue(assignment, pool)
	if err != nil {
		return false, err
	}
	return EvalComparator(ce.Comparator, left, right)
}
func (ce *ComparatorExpression) String() string {
	return "(" + ce.Left.String() + " " + ce.Comparator + " " + ce.Right.String() + ")"
}

// ExistentialExpression is true iff some record in the pool can be bound
// to its variable making the inner expression true. A missing-field
// error for a particular candidate skips that candidate rather than
// aborting the quantifier; every other error propagates.
type ExistentialExpression struct {
	Variable   string
	Expression BoolExpression
}

func (ee *ExistentialExpression) boolExpr() {}
func (ee *ExistentialExpression) Validate(scope []string) error {
	inner := make([]string, 0, len(scope)+1)
	inner = append(inner, scope...)
	inner = append(inner, ee.Variable)
	return ee.Expression.Validate(inner)
}
func (ee *ExistentialExpression) ExposedVariables() VarSet {
	exposed := ee.Expression.ExposedVariables()
	out := make(VarSet, len(exposed))
	for v := range exposed {
		if v != ee.Variable {
			out[v] = struct{}{}
		}
	}
	return out
}
func (ee *ExistentialExpression) EvalBool(assignment Assignment, pool Pool) (bool, error) {
	for _, candidate := range pool {
		extended := make(Assignment, len(assignment)+1)
		for name, record := range assignment {
			extended[name] = record
		}
		extended[ee.Variable] = candidate

		value, err := ee.Expression.EvalBool(extended, pool)
		if err != nil {
			if srderrors.IsMissingField(err) {
				// Candidate lacks a referenced field; treat as
				// non-matching and keep scanning.
				continue
			}
			return false, err
		}
		if value {
			return true, nil
		}
	}
	return false, nil
}
func (ee *ExistentialExpression) String() string {
	return "EXISTS " + ee.Variable + " : (" + ee.Expression.String() + ")"
}

// ----------------------------------------------------------------------------
// Value expression variants
// ----------------------------------------------------------------------------

// StringConstant is a quoted string literal.
type StringConstant struct {
	Value string
}

func (sc *StringConstant) valueExpr() {}
func (sc *StringConstant) Validate(_ []string) error { return nil }
func (sc *StringConstant) ExposedVariables() VarSet { return VarSet{} }
func (sc *StringConstant) EvalValue(_ Assignment, _ Pool) (any, error) {
	return sc.Value, nil
}
func (sc *StringConstant) String() string {
	return strconv.Quote(sc.Value)
}

// ConstExpression is a numeric literal, stored as floating point.
type ConstExpression struct {
	Value float64
}

func (ce *ConstExpression) valueExpr() {}
func (ce *ConstExpression) Validate(_ []string) error { return nil }
func (ce *ConstExpression) ExposedVariables() VarSet { return VarSet{} }
func (ce *ConstExpression) EvalValue(_ Assignment, _ Pool) (any, error) {
	return ce.Value, nil
}
func (ce *ConstExpression) String() string {
	return strconv.FormatFloat(ce.Value, 'g', -1, 64)
}

// BinaryExpression combines two arithmetic expressions with + - *.
type BinaryExpression struct {
	Operator string // + - *
	Left     ValueExpression
	Right    ValueExpression
}

// EvalArithmeticOp applies + - * to two numbers. Shared between node
// evaluation and the parser's constant folding.
func EvalArithmeticOp(operator string, left, right float64) (float64, error) {
	switch operator {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	}
	return 0, srderrors.NewSimple(srderrors.ClassValue,
		fmt.Sprintf("unknown operator %q", operator))
}

func (be *BinaryExpression) valueExpr() {}
func (be *BinaryExpression) Validate(scope []string) error {
	if err := be.Left.Validate(scope); err != nil {
		return err
	}
	return be.Right.Validate(scope)
}
func (be *BinaryExpression) ExposedVariables() VarSet {
	return be.Left.ExposedVariables().union(be.Right.ExposedVariables())
}
func (be *BinaryExpression) EvalValue(assignment Assignment, pool Pool) (any, error) {
	left, err := evalNumeric(be.Left, assignment, pool, be.Operator)
	if err != nil {
		return nil, err
	}
	right, err := evalNumeric(be.Right, assignment, pool, be.Operator)
	if err != nil {
		return nil, err
	}
	return EvalArithmeticOp(be.Operator, left, right)
}
func (be *BinaryExpression) String() string {
	return "(" + be.Left.String() + " " + be.Operator + " " + be.Right.String() + ")"
}

// MinusExpression negates an arithmetic expression.
type MinusExpression struct {
	Expression ValueExpression
}

func (me *MinusExpression) valueExpr() {}
func (me *MinusExpression) Validate(scope []string) error {
	return me.Expression.Validate(scope)
}
func (me *MinusExpression) ExposedVariables() VarSet {
	return me.Expression.ExposedVariables()
}
func (me *MinusExpression) EvalValue(assignment Assignment, pool Pool) (any, error) {
	value, err := evalNumeric(me.Expression, assignment, pool, "-")
	if err != nil {
		return nil, err
	}
	return -value, nil
}
func (me *MinusExpression) String() string {
	return "-" + me.Expression.String()
}

// evalNumeric evaluates a value expression and requires a numeric
// result.
func evalNumeric(expr ValueExpression, assignment Assignment, pool Pool, operator string) (float64, error) {
	value, err := expr.EvalValue(assignment, pool)
	if err != nil {
		return 0, err
	}
	n, ok := toNumber(value)
	if !ok {
		return 0, srderrors.New("VALUE-0002", map[string]any{"Operator": operator})
	}
	return n, nil
}

// Field accesses a named field of the record bound to a variable.
type Field struct {
	VariableName string
	FieldName    string
	Line         int // source line, carried for scope error reporting
}

func (f *Field) valueExpr() {}
func (f *Field) Validate(scope []string) error {
	if !inScope(scope, f.VariableName) {
		return srderrors.New("SCOPE-0001", map[string]any{
			"Variable": f.VariableName,
		}).WithLine(f.Line)
	}
	return nil
}
func (f *Field) ExposedVariables() VarSet {
	return VarSet{f.VariableName: {}}
}
func (f *Field) EvalValue(assignment Assignment, _ Pool) (any, error) {
	record, ok := assignment[f.VariableName]
	if !ok {
		return nil, srderrors.New("FIELD-0001", map[string]any{
			"Variable": f.VariableName,
		})
	}
	value, ok := record[f.FieldName]
	if !ok {
		return nil, srderrors.New("FIELD-0002", map[string]any{
			"Field": f.FieldName,
		})
	}
	return value, nil
}
func (f *Field) String() string {
	return f.VariableName + "." + f.FieldName
}

// ----------------------------------------------------------------------------
// Declarations
// ----------------------------------------------------------------------------

// Application records one successful rule application: the record ids
// bound to each variable and the adjustment contributed. Emitted for
// observability only.
type Application struct {
	AssignedIDs map[string]any `json:"assigned_ids"`
	Adjustment  float64        `json:"adjustment"`
}

// Rule declares an additive utility adjustment that applies whenever its
// condition holds over a tuple of records.
type Rule struct {
	Variables       []string
	Application     BoolExpression
	Adjustment      ValueExpression
	MaxApplications *int // nil means unbounded
}

// NewRule validates the application and adjustment expressions against
// the declared variable tuple and returns the constructed rule along
// with the names of any declared-but-unused variables (a non-fatal
// diagnostic for the caller to surface).
func NewRule(variables []string, application BoolExpression, adjustment ValueExpression, maxApplications *int) (*Rule, []string, error) {
	if err := application.Validate(variables); err != nil {
		return nil, nil, err
	}
	if err := adjustment.Validate(variables); err != nil {
		return nil, nil, err
	}

	used := application.ExposedVariables().union(adjustment.ExposedVariables())
	unused := unusedVariables(variables, used)

	rule := &Rule{
		Variables:       variables,
		Application:     application,
		Adjustment:      adjustment,
		MaxApplications: maxApplications,
	}
	return rule, unused, nil
}

// Apply enumerates every ordered assignment of the rule's variables to
// records from pool (with repetition; first variable slowest) and sums
// the adjustment over assignments satisfying the application condition.
// If a maximum application count is set, enumeration stops as soon as
// the counter reaches it, making the result dependent on pool order.
func (r *Rule) Apply(pool Pool) (float64, []Application, error) {
	var total float64
	var applications []Application
	count := 0

	iter := newProductIterator(len(r.Variables), len(pool))
	for iter.next() {
		assignment := iter.assignment(r.Variables, pool)

		applies, err := r.Application.EvalBool(assignment, pool)
		if err != nil {
			return 0, applications, err
		}
		if applies {
			count++
			adjustment, err := evalNumeric(r.Adjustment, assignment, pool, "ADJUST UTILITY")
			if err != nil {
				return 0, applications, err
			}
			total += adjustment
			applications = append(applications, Application{
				AssignedIDs: assignedIDs(assignment),
				Adjustment:  adjustment,
			})
		}

		if r.MaxApplications != nil && count >= *r.MaxApplications {
			break
		}
	}

	return total, applications, nil
}

func (r *Rule) String() string {
	var sb strings.Builder
	sb.WriteString("RULE (")
	sb.WriteString(strings.Join(r.Variables, ", "))
	sb.WriteString(") : APPLIES ")
	sb.WriteString(r.Application.String())
	sb.WriteString(" ADJUST UTILITY ")
	sb.WriteString(r.Adjustment.String())
	if r.MaxApplications != nil {
		sb.WriteString(fmt.Sprintf(" MAXIMUM APPLICATIONS %d", *r.MaxApplications))
	}
	sb.WriteString(";")
	return sb.String()
}

// Constraint declares a bound on how many assignments (or how much of a
// summed field) may satisfy a condition.
type Constraint struct {
	Variables       []string
	Application     BoolExpression
	SumField        ValueExpression // nil means count mode
	ConstraintValue float64
}

// NewConstraint validates the application (and sum-field, when present)
// expressions against the declared variable tuple. Like NewRule it
// returns any declared-but-unused variable names.
func NewConstraint(variables []string, application BoolExpression, sumField ValueExpression, constraintValue float64) (*Constraint, []string, error) {
	if err := application.Validate(variables); err != nil {
		return nil, nil, err
	}
	used := application.ExposedVariables()
	if sumField != nil {
		if err := sumField.Validate(variables); err != nil {
			return nil, nil, err
		}
		used = used.union(sumField.ExposedVariables())
	}
	unused := unusedVariables(variables, used)

	constraint := &Constraint{
		Variables:       variables,
		Application:     application,
		SumField:        sumField,
		ConstraintValue: constraintValue,
	}
	return constraint, unused, nil
}

// Apply enumerates the full assignment product (no early stop) and
// aggregates 1 per satisfying assignment in count mode, or the evaluated
// sum-field otherwise. The constraint is satisfied iff the aggregate is
// strictly less than the threshold.
func (c *Constraint) Apply(pool Pool) (bool, float64, error) {
	var aggregate float64

	iter := newProductIterator(len(c.Variables), len(pool))
	for iter.next() {
		assignment := iter.assignment(c.Variables, pool)

		applies, err := c.Application.EvalBool(assignment, pool)
		if err != nil {
			return false, 0, err
		}
		if !applies {
			continue
		}

		if c.SumField == nil {
			aggregate += 1
		} else {
			value, err := evalNumeric(c.SumField, assignment, pool, "SUM")
			if err != nil {
				return false, 0, err
			}
			aggregate += value
		}
	}

	return aggregate < c.ConstraintValue, aggregate, nil
}

func (c *Constraint) String() string {
	var sb strings.Builder
	sb.WriteString("CONSTRAINT (")
	sb.WriteString(strings.Join(c.Variables, ", "))
	sb.WriteString(") : APPLIES ")
	sb.WriteString(c.Application.String())
	if c.SumField == nil {
		sb.WriteString(" COUNT")
	} else {
		sb.WriteString(" SUM ")
		sb.WriteString(c.SumField.String())
	}
	sb.WriteString(fmt.Sprintf(" LESS THAN %s;", strconv.FormatFloat(c.ConstraintValue, 'g', -1, 64)))
	return sb.String()
}

func unusedVariables(declared []string, used VarSet) []string {
	var unused []string
	for _, v := range declared {
		if !used.contains(v) {
			unused = append(unused, v)
		}
	}
	sort.Strings(unused)
	return unused
}

func assignedIDs(assignment Assignment) map[string]any {
	ids := make(map[string]any, len(assignment))
	for name, record := range assignment {
		ids[name] = record["id"]
	}
	return ids
}

// productIterator enumerates k-tuples of pool indices in lexicographic
// order: the first position varies slowest, the last fastest.
type productIterator struct {
	indices []int
	n       int
	started bool
	done    bool
}

func newProductIterator(k, n int) *productIterator {
	return &productIterator{
		indices: make([]int, k),
		n:       n,
		done:    n == 0 && k > 0,
	}
}

func (it *productIterator) next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		if len(it.indices) == 0 {
			// Zero variables: a single empty assignment.
			it.done = true
			return true
		}
		return true
	}
	i := len(it.indices) - 1
	for ; i >= 0; i-- {
		it.indices[i]++
		if it.indices[i] < it.n {
			return true
		}
		it.indices[i] = 0
	}
	it.done = true
	return false
}

func (it *productIterator) assignment(variables []string, pool Pool) Assignment {
	assignment := make(Assignment, len(variables))
	for i, name := range variables {
		assignment[name] = pool[it.indices[i]]
	}
	return assignment
}

// ----------------------------------------------------------------------------
// Rule sets and bins
// ----------------------------------------------------------------------------

// DefaultBinKey is the bin key for declarations outside any explicit
// bin definition.
const DefaultBinKey = "default"

// Declarations holds the rules and constraints of one bin, in source
// order.
type Declarations struct {
	Rules       []*Rule
	Constraints []*Constraint
}

// RuleSet is a compiled SRD program: declarations partitioned by bin.
// Keys are either DefaultBinKey or the decimal form of a non-negative
// integer bin identifier.
type RuleSet struct {
	Bins map[string]*Declarations
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{Bins: make(map[string]*Declarations)}
}

// BinResult is the outcome of applying one bin to a pool.
type BinResult struct {
	Satisfied    bool          // all constraints hold
	Utility      float64       // total rule adjustment (0 when violated)
	Applications []Application // applied-rule events, in evaluation order
}

// DeclarationsFor returns the declarations for bin, falling back to the
// default bin when no explicit definition exists.
func (rs *RuleSet) DeclarationsFor(bin int) *Declarations {
	if decls, ok := rs.Bins[strconv.Itoa(bin)]; ok {
		return decls
	}
	if decls, ok := rs.Bins[DefaultBinKey]; ok {
		return decls
	}
	return &Declarations{}
}

// Apply evaluates a bin's constraints and rules against a pool.
// Constraints are checked first; any violation short-circuits to an
// unsatisfied result with zero utility. Otherwise every rule's
// adjustment is accumulated.
func (rs *RuleSet) Apply(bin int, pool Pool) (*BinResult, error) {
	decls := rs.DeclarationsFor(bin)

	for _, constraint := range decls.Constraints {
		satisfied, _, err := constraint.Apply(pool)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			return &BinResult{Satisfied: false, Utility: 0}, nil
		}
	}

	result := &BinResult{Satisfied: true}
	for _, rule := range decls.Rules {
		adjustment, applications, err := rule.Apply(pool)
		if err != nil {
			return nil, err
		}
		result.Utility += adjustment
		result.Applications = append(result.Applications, applications...)
	}

	return result, nil
}
