// Package parser builds SRD abstract syntax trees from token streams.
//
// The grammar is parsed by recursive descent with one token of
// lookahead, plus speculative parsing (via lexer state save/restore) at
// the single ambiguous point: a '(' in condition position may open
// either a parenthesized condition or the arithmetic left operand of a
// comparator.
//
// Constant folding happens inline during construction: arithmetic,
// comparator, and logical operations over constants collapse to
// constant nodes, and a vacuous existential quantifier is elided in
// favor of its body. Scope validation runs per declaration immediately
// after construction.
package parser

import (
	"fmt"
	"strconv"

	"github.com/srdtools/srd/pkg/srd/ast"
	srderrors "github.com/srdtools/srd/pkg/srd/errors"
	"github.com/srdtools/srd/pkg/srd/lexer"
)

// Precedence levels for arithmetic operators
const (
	_ int = iota
	LOWEST
	SUM     // + -
	PRODUCT // *
	PREFIX  // -x
)

// precedences maps tokens to their precedence
var precedences = map[lexer.TokenType]int{
	lexer.PLUS:     SUM,
	lexer.MINUS:    SUM,
	lexer.ASTERISK: PRODUCT,
}

// Warning is a non-fatal compile diagnostic (e.g. a declared variable
// unused by any expression of its declaration).
type Warning struct {
	Message string
	Line    int
}

// Parser represents the parser
type Parser struct {
	l *lexer.Lexer

	structuredErrors []*srderrors.SRDError
	warnings         []Warning

	curToken  lexer.Token
	peekToken lexer.Token
}

// New creates a new parser instance
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// Errors returns parser errors as strings (convenience method for
// tests). Prefer StructuredErrors for production code.
func (p *Parser) Errors() []string {
	result := make([]string, len(p.structuredErrors))
	for i, err := range p.structuredErrors {
		result[i] = err.String()
	}
	return result
}

// StructuredErrors returns parser errors as structured SRDError values.
func (p *Parser) StructuredErrors() []*srderrors.SRDError {
	return p.structuredErrors
}

// Warnings returns the non-fatal diagnostics collected while parsing.
func (p *Parser) Warnings() []Warning {
	return p.warnings
}

func (p *Parser) addError(err *srderrors.SRDError) {
	p.structuredErrors = append(p.structuredErrors, err)
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t lexer.TokenType) bool {
	return p.peekToken.Type == t
}

// expectPeek advances if the peek token matches, or records an error.
func (p *Parser) expectPeek(t lexer.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t.String())
	return false
}

func (p *Parser) peekError(expected string) {
	err := srderrors.New("PARSE-0001", map[string]any{
		"Expected": expected,
		"Got":      p.peekToken.Literal,
	})
	p.addError(err.WithLine(p.peekToken.Line))
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

// parserState captures everything needed to rewind a speculative parse,
// including discarding any errors it recorded.
type parserState struct {
	lexState  lexer.LexerState
	curToken  lexer.Token
	peekToken lexer.Token
	nErrors   int
	nWarnings int
}

func (p *Parser) saveState() parserState {
	return parserState{
		lexState:  p.l.SaveState(),
		curToken:  p.curToken,
		peekToken: p.peekToken,
		nErrors:   len(p.structuredErrors),
		nWarnings: len(p.warnings),
	}
}

func (p *Parser) restoreState(state parserState) {
	p.l.RestoreState(state.lexState)
	p.curToken = state.curToken
	p.peekToken = state.peekToken
	p.structuredErrors = p.structuredErrors[:state.nErrors]
	p.warnings = p.warnings[:state.nWarnings]
}

// ----------------------------------------------------------------------------
// Top level
// ----------------------------------------------------------------------------

// ParseRuleSet parses a complete SRD program: either a list of bin
// definitions or an unbinned declaration list, which lands in the
// default bin. Check StructuredErrors afterwards; a non-empty error
// list means the returned rule set is incomplete.
func (p *Parser) ParseRuleSet() *ast.RuleSet {
	rs := ast.NewRuleSet()

	if p.curTokenIs(lexer.BIN) || p.curTokenIs(lexer.DEFAULT) {
		for p.curTokenIs(lexer.BIN) || p.curTokenIs(lexer.DEFAULT) {
			key, line, decls := p.parseBinDefinition()
			if decls == nil {
				return rs
			}
			if _, exists := rs.Bins[key]; exists {
				err := srderrors.New("DUP-0002", map[string]any{"Bin": key})
				p.addError(err.WithLine(line))
				return rs
			}
			rs.Bins[key] = decls
		}
	} else {
		decls := p.parseDeclarations()
		if decls == nil {
			return rs
		}
		rs.Bins[ast.DefaultBinKey] = decls
	}

	if !p.curTokenIs(lexer.EOF) && len(p.structuredErrors) == 0 {
		err := srderrors.New("PARSE-0002", map[string]any{"Token": p.curToken.Literal})
		p.addError(err.WithLine(p.curToken.Line))
	}

	return rs
}

// parseBinDefinition parses `BIN <int> : <declarations>` or
// `DEFAULT : <declarations>` and leaves curToken on the first token
// after the bin's declarations.
func (p *Parser) parseBinDefinition() (string, int, *ast.Declarations) {
	key := ast.DefaultBinKey
	binLine := p.curToken.Line

	if p.curTokenIs(lexer.BIN) {
		if !p.expectPeek(lexer.INT) {
			return "", 0, nil
		}
		n, err := strconv.Atoi(p.curToken.Literal)
		if err != nil {
			perr := srderrors.New("PARSE-0003", map[string]any{"Literal": p.curToken.Literal})
			p.addError(perr.WithLine(p.curToken.Line))
			return "", 0, nil
		}
		key = strconv.Itoa(n)
	}

	if !p.expectPeek(lexer.COLON) {
		return "", 0, nil
	}
	p.nextToken()

	decls := p.parseDeclarations()
	if decls == nil {
		return "", 0, nil
	}
	return key, binLine, decls
}

// parseDeclarations parses a run of RULE/CONSTRAINT declarations in
// source order. At least one declaration is required. Leaves curToken
// on the first token past the run (BIN, DEFAULT, or EOF).
func (p *Parser) parseDeclarations() *ast.Declarations {
	decls := &ast.Declarations{}

	for {
		switch p.curToken.Type {
		case lexer.RULE:
			rule := p.parseRuleDeclaration()
			if rule == nil {
				return nil
			}
			decls.Rules = append(decls.Rules, rule)
		case lexer.CONSTRAINT:
			constraint := p.parseConstraintDeclaration()
			if constraint == nil {
				return nil
			}
			decls.Constraints = append(decls.Constraints, constraint)
		default:
			if len(decls.Rules) == 0 && len(decls.Constraints) == 0 {
				err := srderrors.New("PARSE-0005", map[string]any{"Got": p.curToken.Literal})
				p.addError(err.WithLine(p.curToken.Line))
				return nil
			}
			return decls
		}
		p.nextToken() // past the declaration's ';'
	}
}

// ----------------------------------------------------------------------------
// Declarations
// ----------------------------------------------------------------------------

// parseRuleDeclaration parses
//
//	RULE (v1, ...) : APPLIES <cond> ADJUST UTILITY <arith>
//	     [MAXIMUM APPLICATIONS <int>] ;
//
// and leaves curToken on the ';'.
func (p *Parser) parseRuleDeclaration() *ast.Rule {
	declLine := p.curToken.Line

	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	variables := p.parseVariableList(declLine)
	if variables == nil {
		return nil
	}

	if !p.expectPeek(lexer.COLON) {
		return nil
	}
	if !p.expectPeek(lexer.APPLIES) {
		return nil
	}
	p.nextToken()
	application := p.parseCondition()
	if application == nil {
		return nil
	}

	if !p.expectPeek(lexer.ADJUST) {
		return nil
	}
	if !p.expectPeek(lexer.UTILITY) {
		return nil
	}
	p.nextToken()
	adjustment := p.parseArithmeticExpression(LOWEST)
	if adjustment == nil {
		return nil
	}

	var maxApplications *int
	if p.peekTokenIs(lexer.MAXIMUM) {
		p.nextToken()
		if !p.expectPeek(lexer.APPLICATIONS) {
			return nil
		}
		if !p.expectPeek(lexer.INT) {
			return nil
		}
		n, err := strconv.Atoi(p.curToken.Literal)
		if err != nil {
			perr := srderrors.New("PARSE-0003", map[string]any{"Literal": p.curToken.Literal})
			p.addError(perr.WithLine(p.curToken.Line))
			return nil
		}
		maxApplications = &n
	}

	if !p.expectPeek(lexer.SEMICOLON) {
		return nil
	}

	rule, unused, err := ast.NewRule(variables, application, adjustment, maxApplications)
	if err != nil {
		p.addValidationError(err)
		return nil
	}
	p.warnUnused(unused, "RULE", declLine)
	return rule
}

// parseConstraintDeclaration parses
//
//	CONSTRAINT (v1, ...) : APPLIES <cond> (COUNT | SUM <field>)
//	           LESS THAN <const> ;
//
// and leaves curToken on the ';'.
func (p *Parser) parseConstraintDeclaration() *ast.Constraint {
	declLine := p.curToken.Line

	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	variables := p.parseVariableList(declLine)
	if variables == nil {
		return nil
	}

	if !p.expectPeek(lexer.COLON) {
		return nil
	}
	if !p.expectPeek(lexer.APPLIES) {
		return nil
	}
	p.nextToken()
	application := p.parseCondition()
	if application == nil {
		return nil
	}

	var sumField ast.ValueExpression
	switch {
	case p.peekTokenIs(lexer.COUNT):
		p.nextToken()
	case p.peekTokenIs(lexer.SUM):
		p.nextToken()
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		field := p.parseField()
		if field == nil {
			return nil
		}
		sumField = field
	default:
		p.peekError("COUNT or SUM")
		return nil
	}

	if !p.expectPeek(lexer.LESS) {
		return nil
	}
	if !p.expectPeek(lexer.THAN) {
		return nil
	}
	p.nextToken()
	value, ok := p.parseSignedConstant()
	if !ok {
		return nil
	}

	if !p.expectPeek(lexer.SEMICOLON) {
		return nil
	}

	constraint, unused, err := ast.NewConstraint(variables, application, sumField, value)
	if err != nil {
		p.addValidationError(err)
		return nil
	}
	p.warnUnused(unused, "CONSTRAINT", declLine)
	return constraint
}

// parseVariableList parses `( id, id, ... )` with curToken on the '(',
// leaving curToken on the ')'. Duplicate names are a fatal error.
func (p *Parser) parseVariableList(declLine int) []string {
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	names := []string{p.curToken.Literal}

	for p.peekTokenIs(lexer.COMMA) {
		p.nextToken()
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		names = append(names, p.curToken.Literal)
	}

	if !p.expectPeek(lexer.RPAREN) {
		return nil
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			err := srderrors.New("DUP-0001", map[string]any{"Variable": name})
			p.addError(err.WithLine(declLine))
			return nil
		}
		seen[name] = true
	}

	return names
}

func (p *Parser) addValidationError(err error) {
	if se, ok := err.(*srderrors.SRDError); ok {
		p.addError(se)
		return
	}
	p.addError(srderrors.NewSimple(srderrors.ClassParse, err.Error()))
}

func (p *Parser) warnUnused(unused []string, declKind string, line int) {
	for _, name := range unused {
		p.warnings = append(p.warnings, Warning{
			Message: fmt.Sprintf("unused variable '%s' in %s declaration", name, declKind),
			Line:    line,
		})
	}
}

// ----------------------------------------------------------------------------
// Conditions
// ----------------------------------------------------------------------------

// parseCondition parses a boolean expression. AND and OR share a single
// precedence level and associate left by position; NOT binds tighter
// than either. Leaves curToken on the condition's last token.
func (p *Parser) parseCondition() ast.BoolExpression {
	left := p.parseUnaryCondition()
	if left == nil {
		return nil
	}

	for p.peekTokenIs(lexer.AND) || p.peekTokenIs(lexer.OR) {
		p.nextToken()
		operator := "AND"
		if p.curTokenIs(lexer.OR) {
			operator = "OR"
		}
		p.nextToken()
		right := p.parseUnaryCondition()
		if right == nil {
			return nil
		}
		left = foldBinaryLogical(operator, left, right)
	}

	return left
}

// parseUnaryCondition handles NOT chains before primary conditions.
func (p *Parser) parseUnaryCondition() ast.BoolExpression {
	if p.curTokenIs(lexer.NOT) {
		p.nextToken()
		operand := p.parseUnaryCondition()
		if operand == nil {
			return nil
		}
		if constant, ok := operand.(*ast.LogicalConstant); ok {
			return &ast.LogicalConstant{Value: !constant.Value}
		}
		return &ast.LogicalNot{Expression: operand}
	}
	return p.parsePrimaryCondition()
}

func (p *Parser) parsePrimaryCondition() ast.BoolExpression {
	switch p.curToken.Type {
	case lexer.TRUE:
		return &ast.LogicalConstant{Value: true}
	case lexer.FALSE:
		return &ast.LogicalConstant{Value: false}
	case lexer.EXISTS:
		return p.parseExistentialExpression()
	case lexer.LPAREN:
		// Ambiguous: '(' may group a condition or begin the arithmetic
		// left operand of a comparator. Try the condition reading
		// first; rewind on failure.
		state := p.saveState()
		p.nextToken()
		cond := p.parseCondition()
		if cond != nil && p.peekTokenIs(lexer.RPAREN) && len(p.structuredErrors) == state.nErrors {
			p.nextToken()
			return cond
		}
		p.restoreState(state)
		return p.parseComparatorExpression()
	case lexer.IDENT, lexer.INT, lexer.FLOAT, lexer.STRING, lexer.MINUS:
		return p.parseComparatorExpression()
	default:
		err := srderrors.New("PARSE-0004", map[string]any{"Got": p.curToken.Literal})
		p.addError(err.WithLine(p.curToken.Line))
		return nil
	}
}

// parseExistentialExpression parses `EXISTS <var> : ( <cond> )` with
// curToken on EXISTS, leaving curToken on the ')'. A quantifier whose
// variable does not occur free in its body is vacuous and elides to the
// body itself.
func (p *Parser) parseExistentialExpression() ast.BoolExpression {
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	variable := p.curToken.Literal

	if !p.expectPeek(lexer.COLON) {
		return nil
	}
	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	p.nextToken()
	body := p.parseCondition()
	if body == nil {
		return nil
	}
	if !p.expectPeek(lexer.RPAREN) {
		return nil
	}

	if _, bound := body.ExposedVariables()[variable]; !bound {
		return body
	}
	return &ast.ExistentialExpression{Variable: variable, Expression: body}
}

// parseComparatorExpression parses `<value> <comparator> <value>`,
// folding to a logical constant when both sides are constants of the
// same kind.
func (p *Parser) parseComparatorExpression() ast.BoolExpression {
	left := p.parseValueExpression()
	if left == nil {
		return nil
	}

	switch p.peekToken.Type {
	case lexer.LT, lexer.LTE, lexer.GT, lexer.GTE, lexer.EQ, lexer.NOT_EQ:
		p.nextToken()
	default:
		p.peekError("a comparator")
		return nil
	}
	comparator := p.curToken.Literal

	p.nextToken()
	right := p.parseValueExpression()
	if right == nil {
		return nil
	}

	return foldComparator(comparator, left, right)
}

// ----------------------------------------------------------------------------
// Value expressions
// ----------------------------------------------------------------------------

// parseValueExpression parses either a string constant or an arithmetic
// expression.
func (p *Parser) parseValueExpression() ast.ValueExpression {
	if p.curTokenIs(lexer.STRING) {
		return &ast.StringConstant{Value: p.curToken.Literal}
	}
	return p.parseArithmeticExpression(LOWEST)
}

// parseArithmeticExpression is a Pratt-style expression parser over
// + - * with unary minus binding tightest. Leaves curToken on the
// expression's last token.
func (p *Parser) parseArithmeticExpression(precedence int) ast.ValueExpression {
	var left ast.ValueExpression

	switch p.curToken.Type {
	case lexer.MINUS:
		p.nextToken()
		operand := p.parseArithmeticExpression(PREFIX)
		if operand == nil {
			return nil
		}
		left = foldMinus(operand)
	case lexer.INT, lexer.FLOAT:
		value, err := strconv.ParseFloat(p.curToken.Literal, 64)
		if err != nil {
			perr := srderrors.New("PARSE-0003", map[string]any{"Literal": p.curToken.Literal})
			p.addError(perr.WithLine(p.curToken.Line))
			return nil
		}
		left = &ast.ConstExpression{Value: value}
	case lexer.IDENT:
		field := p.parseField()
		if field == nil {
			return nil
		}
		left = field
	case lexer.LPAREN:
		p.nextToken()
		left = p.parseArithmeticExpression(LOWEST)
		if left == nil {
			return nil
		}
		if !p.expectPeek(lexer.RPAREN) {
			return nil
		}
	default:
		err := srderrors.New("PARSE-0002", map[string]any{"Token": p.curToken.Literal})
		p.addError(err.WithLine(p.curToken.Line))
		return nil
	}

	if left == nil {
		return nil
	}

	for precedence < p.peekPrecedence() {
		switch p.peekToken.Type {
		case lexer.PLUS, lexer.MINUS, lexer.ASTERISK:
			p.nextToken()
			left = p.parseInfixArithmetic(left)
			if left == nil {
				return nil
			}
		default:
			return left
		}
	}

	return left
}

func (p *Parser) parseInfixArithmetic(left ast.ValueExpression) ast.ValueExpression {
	operator := p.curToken.Literal
	precedence := precedences[p.curToken.Type]

	p.nextToken()
	right := p.parseArithmeticExpression(precedence)
	if right == nil {
		return nil
	}

	return foldBinaryArithmetic(operator, left, right)
}

// parseField parses `<variable> . <field>` with curToken on the
// variable identifier, leaving curToken on the field identifier.
func (p *Parser) parseField() *ast.Field {
	variable := p.curToken.Literal
	line := p.curToken.Line

	if !p.expectPeek(lexer.DOT) {
		return nil
	}
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}

	return &ast.Field{
		VariableName: variable,
		FieldName:    p.curToken.Literal,
		Line:         line,
	}
}

// parseSignedConstant parses the constraint threshold: an optionally
// negated integer or float literal, with curToken on its first token.
func (p *Parser) parseSignedConstant() (float64, bool) {
	negate := false
	if p.curTokenIs(lexer.MINUS) {
		negate = true
		if !p.peekTokenIs(lexer.INT) && !p.peekTokenIs(lexer.FLOAT) {
			p.peekError("a numeric constant")
			return 0, false
		}
		p.nextToken()
	}

	if !p.curTokenIs(lexer.INT) && !p.curTokenIs(lexer.FLOAT) {
		err := srderrors.New("PARSE-0001", map[string]any{
			"Expected": "a numeric constant",
			"Got":      p.curToken.Literal,
		})
		p.addError(err.WithLine(p.curToken.Line))
		return 0, false
	}

	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		perr := srderrors.New("PARSE-0003", map[string]any{"Literal": p.curToken.Literal})
		p.addError(perr.WithLine(p.curToken.Line))
		return 0, false
	}
	if negate {
		value = -value
	}
	return value, true
}

// ----------------------------------------------------------------------------
// Constant folding
// ----------------------------------------------------------------------------

func foldBinaryLogical(operator string, left, right ast.BoolExpression) ast.BoolExpression {
	lc, lok := left.(*ast.LogicalConstant)
	rc, rok := right.(*ast.LogicalConstant)
	if lok && rok {
		if value, err := ast.EvalLogicalOp(operator, lc.Value, rc.Value); err == nil {
			return &ast.LogicalConstant{Value: value}
		}
	}
	return &ast.BinaryLogicalExpression{Operator: operator, Left: left, Right: right}
}

func foldComparator(comparator string, left, right ast.ValueExpression) ast.BoolExpression {
	switch l := left.(type) {
	case *ast.ConstExpression:
		if r, ok := right.(*ast.ConstExpression); ok {
			if value, err := ast.EvalComparator(comparator, l.Value, r.Value); err == nil {
				return &ast.LogicalConstant{Value: value}
			}
		}
	case *ast.StringConstant:
		if r, ok := right.(*ast.StringConstant); ok {
			if value, err := ast.EvalComparator(comparator, l.Value, r.Value); err == nil {
				return &ast.LogicalConstant{Value: value}
			}
		}
	}
	return &ast.ComparatorExpression{Comparator: comparator, Left: left, Right: right}
}

func foldBinaryArithmetic(operator string, left, right ast.ValueExpression) ast.ValueExpression {
	lc, lok := left.(*ast.ConstExpression)
	rc, rok := right.(*ast.ConstExpression)
	if lok && rok {
		if value, err := ast.EvalArithmeticOp(operator, lc.Value, rc.Value); err == nil {
			return &ast.ConstExpression{Value: value}
		}
	}
	return &ast.BinaryExpression{Operator: operator, Left: left, Right: right}
}

func foldMinus(operand ast.ValueExpression) ast.ValueExpression {
	if constant, ok := operand.(*ast.ConstExpression); ok {
		return &ast.ConstExpression{Value: -constant.Value}
	}
	return &ast.MinusExpression{Expression: operand}
}
