package ast

import (
	"testing"

	srderrors "github.com/srdtools/srd/pkg/srd/errors"
)

func field(variable, name string) *Field {
	return &Field{VariableName: variable, FieldName: name}
}

func intp(n int) *int { return &n }

func testPool(values ...float64) Pool {
	pool := make(Pool, len(values))
	for i, v := range values {
		pool[i] = Record{"id": float64(i + 1), "value": v}
	}
	return pool
}

func TestRuleAppliesOncePerSatisfyingAssignment(t *testing.T) {
	// APPLIES a.value > 1 ADJUST UTILITY a.value
	rule, unused, err := NewRule(
		[]string{"a"},
		&ComparatorExpression{Comparator: ">", Left: field("a", "value"), Right: &ConstExpression{Value: 1}},
		field("a", "value"),
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(unused) != 0 {
		t.Fatalf("unexpected unused variables: %v", unused)
	}

	total, applications, err := rule.Apply(testPool(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %g", total)
	}
	if len(applications) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(applications))
	}
	if applications[0].AssignedIDs["a"] != float64(2) {
		t.Errorf("expected first application on id 2, got %v", applications[0].AssignedIDs)
	}
	if applications[1].Adjustment != 3 {
		t.Errorf("expected second adjustment 3, got %g", applications[1].Adjustment)
	}
}

func TestRuleEnumeratesFullProduct(t *testing.T) {
	// Two variables over three records: 9 assignments.
	rule, _, err := NewRule(
		[]string{"a", "b"},
		&LogicalConstant{Value: true},
		&BinaryExpression{Operator: "+", Left: field("a", "value"), Right: field("b", "value")},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	total, applications, err := rule.Apply(testPool(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(applications) != 9 {
		t.Fatalf("expected 9 applications, got %d", len(applications))
	}
	// Each value appears 3 times on each side: 2 * 3 * (1+2+3).
	if total != 36 {
		t.Errorf("expected total 36, got %g", total)
	}
}

func TestRuleEnumerationOrder(t *testing.T) {
	// The first variable varies slowest.
	rule, _, err := NewRule(
		[]string{"a", "b"},
		&LogicalConstant{Value: true},
		&ConstExpression{Value: 1},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	_, applications, err := rule.Apply(testPool(10, 20))
	if err != nil {
		t.Fatal(err)
	}

	wantA := []float64{1, 1, 2, 2}
	wantB := []float64{1, 2, 1, 2}
	for i, app := range applications {
		if app.AssignedIDs["a"] != wantA[i] || app.AssignedIDs["b"] != wantB[i] {
			t.Errorf("application %d: got a=%v b=%v, want a=%g b=%g",
				i, app.AssignedIDs["a"], app.AssignedIDs["b"], wantA[i], wantB[i])
		}
	}
}

func TestRuleMaximumApplicationsStopsEarly(t *testing.T) {
	rule, _, err := NewRule(
		[]string{"a"},
		&LogicalConstant{Value: true},
		field("a", "value"),
		intp(2),
	)
	if err != nil {
		t.Fatal(err)
	}

	total, applications, err := rule.Apply(testPool(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(applications) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(applications))
	}
	// Pool order decides which tuples land under the cap.
	if total != 3 {
		t.Errorf("expected total 3, got %g", total)
	}
}

func TestRuleCapCountsOnlyApplications(t *testing.T) {
	// Non-applying assignments don't count against the cap.
	rule, _, err := NewRule(
		[]string{"a"},
		&ComparatorExpression{Comparator: ">", Left: field("a", "value"), Right: &ConstExpression{Value: 5}},
		field("a", "value"),
		intp(1),
	)
	if err != nil {
		t.Fatal(err)
	}

	total, applications, err := rule.Apply(testPool(1, 2, 9, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(applications) != 1 {
		t.Fatalf("expected 1 application, got %d", len(applications))
	}
	if total != 9 {
		t.Errorf("expected total 9, got %g", total)
	}
}

func TestRuleWithEmptyPool(t *testing.T) {
	rule, _, err := NewRule(
		[]string{"a"},
		&LogicalConstant{Value: true},
		&ConstExpression{Value: 1},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	total, applications, err := rule.Apply(Pool{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(applications) != 0 {
		t.Errorf("expected no applications over empty pool, got %g, %d", total, len(applications))
	}
}

func TestNewRuleReportsUnusedVariables(t *testing.T) {
	_, unused, err := NewRule(
		[]string{"a", "b", "c"},
		&ComparatorExpression{Comparator: ">", Left: field("a", "value"), Right: &ConstExpression{Value: 0}},
		&ConstExpression{Value: 1},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(unused) != 2 || unused[0] != "b" || unused[1] != "c" {
		t.Errorf("expected unused [b c], got %v", unused)
	}
}

func TestNewRuleRejectsOutOfScopeField(t *testing.T) {
	_, _, err := NewRule(
		[]string{"a"},
		&ComparatorExpression{Comparator: ">", Left: field("z", "value"), Right: &ConstExpression{Value: 0}},
		&ConstExpression{Value: 1},
		nil,
	)
	if err == nil {
		t.Fatal("expected a scope error")
	}
	if srderrors.ClassOf(err) != srderrors.ClassScope {
		t.Errorf("expected a scope error, got %v", err)
	}
}

func TestConstraintCountMode(t *testing.T) {
	constraint, _, err := NewConstraint(
		[]string{"a"},
		&LogicalConstant{Value: true},
		nil,
		3,
	)
	if err != nil {
		t.Fatal(err)
	}

	satisfied, aggregate, err := constraint.Apply(testPool(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	if aggregate != 5 {
		t.Errorf("expected aggregate 5, got %g", aggregate)
	}
	if satisfied {
		t.Error("5 assignments should violate LESS THAN 3")
	}
}

func TestConstraintThresholdIsStrict(t *testing.T) {
	constraint, _, err := NewConstraint(
		[]string{"a"},
		&LogicalConstant{Value: true},
		nil,
		3,
	)
	if err != nil {
		t.Fatal(err)
	}

	satisfied, aggregate, err := constraint.Apply(testPool(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if aggregate != 3 {
		t.Errorf("expected aggregate 3, got %g", aggregate)
	}
	if satisfied {
		t.Error("aggregate equal to the threshold must violate the constraint")
	}
}

func TestConstraintSumMode(t *testing.T) {
	constraint, _, err := NewConstraint(
		[]string{"a"},
		&ComparatorExpression{Comparator: ">", Left: field("a", "value"), Right: &ConstExpression{Value: 1}},
		field("a", "value"),
		10,
	)
	if err != nil {
		t.Fatal(err)
	}

	satisfied, aggregate, err := constraint.Apply(testPool(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	if aggregate != 5 {
		t.Errorf("expected sum 5, got %g", aggregate)
	}
	if !satisfied {
		t.Error("sum 5 should satisfy LESS THAN 10")
	}
}

func TestExistentialShortCircuits(t *testing.T) {
	pool := testPool(1, 2, 3)
	exists := &ExistentialExpression{
		Variable: "b",
		Expression: &ComparatorExpression{
			Comparator: ">",
			Left:       field("b", "value"),
			Right:      field("a", "value"),
		},
	}

	value, err := exists.EvalBool(Assignment{"a": pool[0]}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if !value {
		t.Error("expected a record with a larger value to exist")
	}

	value, err = exists.EvalBool(Assignment{"a": pool[2]}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if value {
		t.Error("no record is larger than the maximum")
	}
}

func TestExistentialToleratesMissingFields(t *testing.T) {
	// Records without the referenced field are skipped, not fatal.
	pool := Pool{
		Record{"id": 1.0, "other": 9.0},
		Record{"id": 2.0, "value": 7.0},
	}
	exists := &ExistentialExpression{
		Variable: "b",
		Expression: &ComparatorExpression{
			Comparator: "==",
			Left:       field("b", "value"),
			Right:      &ConstExpression{Value: 7},
		},
	}

	value, err := exists.EvalBool(Assignment{}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if !value {
		t.Error("expected the second record to match")
	}
}

func TestMissingFieldIsFatalOutsideExistential(t *testing.T) {
	rule, _, err := NewRule(
		[]string{"a"},
		&ComparatorExpression{Comparator: ">", Left: field("a", "absent"), Right: &ConstExpression{Value: 0}},
		&ConstExpression{Value: 1},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = rule.Apply(testPool(1))
	if err == nil {
		t.Fatal("expected a missing-field error")
	}
	if !srderrors.IsMissingField(err) {
		t.Errorf("expected a field error, got %v", err)
	}
}

func TestMixedKindComparisons(t *testing.T) {
	eq, err := EvalComparator("==", 1.0, "1")
	if err != nil {
		t.Fatal(err)
	}
	if eq {
		t.Error("a number never equals a string")
	}

	ne, err := EvalComparator("!=", 1.0, "1")
	if err != nil {
		t.Fatal(err)
	}
	if !ne {
		t.Error("a number always differs from a string")
	}

	_, err = EvalComparator("<", 1.0, "1")
	if err == nil {
		t.Fatal("ordering mixed kinds must fail")
	}
	if srderrors.ClassOf(err) != srderrors.ClassValue {
		t.Errorf("expected a value error, got %v", err)
	}
}

func TestArithmeticRejectsStrings(t *testing.T) {
	expr := &BinaryExpression{
		Operator: "+",
		Left:     &StringConstant{Value: "x"},
		Right:    &ConstExpression{Value: 1},
	}

	_, err := expr.EvalValue(Assignment{}, nil)
	if err == nil {
		t.Fatal("expected a value error")
	}
	if srderrors.ClassOf(err) != srderrors.ClassValue {
		t.Errorf("expected a value error, got %v", err)
	}
}

func TestMinusExpression(t *testing.T) {
	expr := &MinusExpression{Expression: field("a", "value")}
	pool := testPool(4)

	value, err := expr.EvalValue(Assignment{"a": pool[0]}, pool)
	if err != nil {
		t.Fatal(err)
	}
	if value != -4.0 {
		t.Errorf("expected -4, got %v", value)
	}
}

func TestRuleSetConstraintViolationShortCircuits(t *testing.T) {
	rule, _, err := NewRule([]string{"a"}, &LogicalConstant{Value: true}, &ConstExpression{Value: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	constraint, _, err := NewConstraint([]string{"a"}, &LogicalConstant{Value: true}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSet()
	rs.Bins[DefaultBinKey] = &Declarations{
		Rules:       []*Rule{rule},
		Constraints: []*Constraint{constraint},
	}

	result, err := rs.Apply(0, testPool(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if result.Satisfied {
		t.Error("2 assignments should violate LESS THAN 1")
	}
	if result.Utility != 0 {
		t.Errorf("violated bins contribute no utility, got %g", result.Utility)
	}
	if len(result.Applications) != 0 {
		t.Errorf("violated bins run no rules, got %d applications", len(result.Applications))
	}
}

func TestRuleSetSumsRuleAdjustments(t *testing.T) {
	rule1, _, err := NewRule([]string{"a"}, &LogicalConstant{Value: true}, &ConstExpression{Value: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rule2, _, err := NewRule([]string{"a"}, &LogicalConstant{Value: true}, &ConstExpression{Value: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSet()
	rs.Bins["4"] = &Declarations{Rules: []*Rule{rule1, rule2}}

	result, err := rs.Apply(4, testPool(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Satisfied {
		t.Error("no constraints means satisfied")
	}
	if result.Utility != 10 {
		t.Errorf("expected 2*2 + 2*3 = 10, got %g", result.Utility)
	}
	if len(result.Applications) != 4 {
		t.Errorf("expected 4 applications, got %d", len(result.Applications))
	}
}

func TestRuleSetFallsBackToDefaultBin(t *testing.T) {
	rule, _, err := NewRule([]string{"a"}, &LogicalConstant{Value: true}, &ConstExpression{Value: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSet()
	rs.Bins[DefaultBinKey] = &Declarations{Rules: []*Rule{rule}}
	rs.Bins["1"] = &Declarations{}

	// Bin 1 exists (and is empty); bin 7 does not and falls back.
	result, err := rs.Apply(1, testPool(1))
	if err != nil {
		t.Fatal(err)
	}
	if result.Utility != 0 {
		t.Errorf("explicit empty bin must not fall back, got %g", result.Utility)
	}

	result, err = rs.Apply(7, testPool(1))
	if err != nil {
		t.Fatal(err)
	}
	if result.Utility != 1 {
		t.Errorf("expected default-bin utility 1, got %g", result.Utility)
	}
}

func TestRuleSetUnknownBinWithoutDefault(t *testing.T) {
	rs := NewRuleSet()
	rs.Bins["1"] = &Declarations{}

	result, err := rs.Apply(9, testPool(1))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Satisfied || result.Utility != 0 {
		t.Errorf("unknown bin should evaluate vacuously, got %+v", result)
	}
}

func TestRuleString(t *testing.T) {
	rule, _, err := NewRule(
		[]string{"a"},
		&ComparatorExpression{Comparator: "<", Left: field("a", "size"), Right: &ConstExpression{Value: 10}},
		&ConstExpression{Value: 2},
		intp(3),
	)
	if err != nil {
		t.Fatal(err)
	}

	want := "RULE (a) : APPLIES (a.size < 10) ADJUST UTILITY 2 MAXIMUM APPLICATIONS 3;"
	if got := rule.String(); got != want {
		t.Errorf("String() mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestConstraintString(t *testing.T) {
	constraint, _, err := NewConstraint(
		[]string{"a"},
		&LogicalConstant{Value: true},
		field("a", "size"),
		100,
	)
	if err != nil {
		t.Fatal(err)
	}

	want := "CONSTRAINT (a) : APPLIES TRUE SUM a.size LESS THAN 100;"
	if got := constraint.String(); got != want {
		t.Errorf("String() mismatch:\n got %s\nwant %s", got, want)
	}
}
