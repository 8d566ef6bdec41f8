// Package lexer tokenizes SRD (Rules Definition) source text.
package lexer

import (
	"fmt"
	"strings"

	srderrors "github.com/srdtools/srd/pkg/srd/errors"
)

// TokenType represents different types of tokens
type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Identifiers and literals
	IDENT  // variable and field names
	INT    // 42
	FLOAT  // 3.14, 1e-5
	STRING // "quoted"

	// Comparators
	LT     // <
	LTE    // <=
	GT     // >
	GTE    // >=
	EQ     // ==
	NOT_EQ // !=

	// Operators
	PLUS     // +
	MINUS    // -
	ASTERISK // *

	// Delimiters
	LPAREN    // (
	RPAREN    // )
	COMMA     // ,
	DOT       // .
	SEMICOLON // ;
	COLON     // :

	// Keywords
	BIN
	DEFAULT
	RULE
	CONSTRAINT
	APPLIES
	ADJUST
	UTILITY
	MAXIMUM
	APPLICATIONS
	AND
	OR
	NOT
	EXISTS
	COUNT
	SUM
	LESS
	THAN
	TRUE
	FALSE
)

// Token represents a single token
type Token struct {
	Type    TokenType
	Literal string
	Line    int
}

// String returns a string representation of the token
func (t Token) String() string {
	return fmt.Sprintf("{Type: %s, Literal: %s, Line: %d}",
		t.Type.String(), t.Literal, t.Line)
}

var tokenNames = map[TokenType]string{
	ILLEGAL:      "ILLEGAL",
	EOF:          "EOF",
	IDENT:        "IDENT",
	INT:          "INT",
	FLOAT:        "FLOAT",
	STRING:       "STRING",
	LT:           "LT",
	LTE:          "LTE",
	GT:           "GT",
	GTE:          "GTE",
	EQ:           "EQ",
	NOT_EQ:       "NOT_EQ",
	PLUS:         "PLUS",
	MINUS:        "MINUS",
	ASTERISK:     "ASTERISK",
	LPAREN:       "LPAREN",
	RPAREN:       "RPAREN",
	COMMA:        "COMMA",
	DOT:          "DOT",
	SEMICOLON:    "SEMICOLON",
	COLON:        "COLON",
	BIN:          "BIN",
	DEFAULT:      "DEFAULT",
	RULE:         "RULE",
	CONSTRAINT:   "CONSTRAINT",
	APPLIES:      "APPLIES",
	ADJUST:       "ADJUST",
	UTILITY:      "UTILITY",
	MAXIMUM:      "MAXIMUM",
	APPLICATIONS: "APPLICATIONS",
	AND:          "AND",
	OR:           "OR",
	NOT:          "NOT",
	EXISTS:       "EXISTS",
	COUNT:        "COUNT",
	SUM:          "SUM",
	LESS:         "LESS",
	THAN:         "THAN",
	TRUE:         "TRUE",
	FALSE:        "FALSE",
}

// String returns a string representation of the token type
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return "UNKNOWN"
}

// Keywords map for identifying reserved words. Lookup is done on the
// lowercased identifier, so keyword matching is case-insensitive.
var keywords = map[string]TokenType{
	"bin":          BIN,
	"default":      DEFAULT,
	"rule":         RULE,
	"constraint":   CONSTRAINT,
	"applies":      APPLIES,
	"adjust":       ADJUST,
	"utility":      UTILITY,
	"maximum":      MAXIMUM,
	"applications": APPLICATIONS,
	"and":          AND,
	"or":           OR,
	"not":          NOT,
	"exists":       EXISTS,
	"count":        COUNT,
	"sum":          SUM,
	"less":         LESS,
	"than":         THAN,
	"true":         TRUE,
	"false":        FALSE,
}

// LookupIdent checks if an identifier is a reserved word
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return IDENT
}

// Lexer represents the lexical analyzer
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int  // current line number

	diagnostics []*srderrors.SRDError // recoverable scan diagnostics
}

// New creates a new lexer instance
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// Diagnostics returns the recoverable diagnostics collected while
// scanning (illegal characters that were skipped). The token stream is
// still produced past them; structural damage is caught by the parser.
func (l *Lexer) Diagnostics() []*srderrors.SRDError {
	return l.diagnostics
}

// LexerState holds the state of a lexer for save/restore
type LexerState struct {
	position     int
	readPosition int
	ch           byte
	line         int
	nDiagnostics int
}

// SaveState saves the current lexer state for potential restoration
func (l *Lexer) SaveState() LexerState {
	return LexerState{
		position:     l.position,
		readPosition: l.readPosition,
		ch:           l.ch,
		line:         l.line,
		nDiagnostics: len(l.diagnostics),
	}
}

// RestoreState restores the lexer to a previously saved state
func (l *Lexer) RestoreState(state LexerState) {
	l.position = state.position
	l.readPosition = state.readPosition
	l.ch = state.ch
	l.line = state.line
	l.diagnostics = l.diagnostics[:state.nDiagnostics]
}

// readChar reads the next character and advances position
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0 // ASCII NUL represents EOF
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++

	if l.ch == '\n' {
		l.line++
	}
}

// peekChar returns the next character without advancing position
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// NextToken scans the input and returns the next token
func (l *Lexer) NextToken() Token {
	var tok Token

	l.skipWhitespaceAndComments()

	switch l.ch {
	case '<':
		if l.peekChar() == '=' {
			line := l.line
			l.readChar()
			tok = Token{Type: LTE, Literal: "<=", Line: line}
		} else {
			tok = newToken(LT, l.ch, l.line)
		}
	case '>':
		if l.peekChar() == '=' {
			line := l.line
			l.readChar()
			tok = Token{Type: GTE, Literal: ">=", Line: line}
		} else {
			tok = newToken(GT, l.ch, l.line)
		}
	case '=':
		if l.peekChar() == '=' {
			line := l.line
			l.readChar()
			tok = Token{Type: EQ, Literal: "==", Line: line}
		} else {
			// A lone '=' maps to nothing in SRD; report and skip.
			l.illegalChar(l.ch)
			l.readChar()
			return l.NextToken()
		}
	case '!':
		if l.peekChar() == '=' {
			line := l.line
			l.readChar()
			tok = Token{Type: NOT_EQ, Literal: "!=", Line: line}
		} else {
			l.illegalChar(l.ch)
			l.readChar()
			return l.NextToken()
		}
	case '+':
		tok = newToken(PLUS, l.ch, l.line)
	case '-':
		tok = newToken(MINUS, l.ch, l.line)
	case '*':
		tok = newToken(ASTERISK, l.ch, l.line)
	case '(':
		tok = newToken(LPAREN, l.ch, l.line)
	case ')':
		tok = newToken(RPAREN, l.ch, l.line)
	case ',':
		tok = newToken(COMMA, l.ch, l.line)
	case '.':
		tok = newToken(DOT, l.ch, l.line)
	case ';':
		tok = newToken(SEMICOLON, l.ch, l.line)
	case ':':
		tok = newToken(COLON, l.ch, l.line)
	case '"':
		tok.Type = STRING
		tok.Line = l.line
		tok.Literal = l.readString()
	case 0:
		tok.Literal = ""
		tok.Type = EOF
		tok.Line = l.line
	default:
		if isLetter(l.ch) {
			tok.Line = l.line
			tok.Literal = l.readIdentifier()
			tok.Type = LookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			return l.readNumber()
		}
		// Unrecognized character: report a diagnostic, skip it, and
		// keep scanning so one bad byte does not abort the compile.
		l.illegalChar(l.ch)
		l.readChar()
		return l.NextToken()
	}

	l.readChar()
	return tok
}

func (l *Lexer) illegalChar(ch byte) {
	err := srderrors.New("LEX-0001", map[string]any{
		"Char": fmt.Sprintf("%q", string(ch)),
	})
	l.diagnostics = append(l.diagnostics, err.WithLine(l.line))
}

// skipWhitespaceAndComments skips spaces, tabs, newlines, and '#' line
// comments. Newlines advance the line counter in readChar.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readIdentifier reads an identifier: [A-Za-z_][A-Za-z0-9_]*
func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readNumber reads an integer or floating literal. A literal is FLOAT
// only if it has a fractional part or an exponent; plain digit runs are
// INT.
func (l *Lexer) readNumber() Token {
	line := l.line
	position := l.position
	tokType := INT

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		tokType = FLOAT
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || ((next == '+' || next == '-') && l.exponentDigitsAhead()) {
			tokType = FLOAT
			l.readChar() // consume 'e'
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return Token{Type: tokType, Literal: l.input[position:l.position], Line: line}
}

// exponentDigitsAhead reports whether a signed exponent has digits after
// the sign, so "1e+" is not consumed as a malformed float.
func (l *Lexer) exponentDigitsAhead() bool {
	pos := l.readPosition + 1 // position after the sign
	return pos < len(l.input) && isDigit(l.input[pos])
}

// readString reads a quoted string literal, handling backslash escapes.
// The surrounding quotes are stripped from the literal value.
func (l *Lexer) readString() string {
	var sb strings.Builder
	for {
		l.readChar()
		if l.ch == '\\' {
			l.readChar()
			if l.ch == 0 {
				break
			}
			sb.WriteByte(l.ch)
			continue
		}
		if l.ch == '"' || l.ch == 0 || l.ch == '\n' {
			break
		}
		sb.WriteByte(l.ch)
	}
	if l.ch != '"' {
		err := srderrors.New("LEX-0002", nil)
		l.diagnostics = append(l.diagnostics, err.WithLine(l.line))
	}
	return sb.String()
}

func newToken(tokenType TokenType, ch byte, line int) Token {
	return Token{Type: tokenType, Literal: string(ch), Line: line}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
