package lexer

import (
	"testing"
)

func TestNextToken(t *testing.T) {
	input := `RULE (a, b) : APPLIES a.size < 100 AND b.type == "image"
ADJUST UTILITY -1.5 * a.priority
MAXIMUM APPLICATIONS 3;

CONSTRAINT (x) : APPLIES TRUE COUNT LESS THAN 10;
`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{RULE, "RULE"},
		{LPAREN, "("},
		{IDENT, "a"},
		{COMMA, ","},
		{IDENT, "b"},
		{RPAREN, ")"},
		{COLON, ":"},
		{APPLIES, "APPLIES"},
		{IDENT, "a"},
		{DOT, "."},
		{IDENT, "size"},
		{LT, "<"},
		{INT, "100"},
		{AND, "AND"},
		{IDENT, "b"},
		{DOT, "."},
		{IDENT, "type"},
		{EQ, "=="},
		{STRING, "image"},
		{ADJUST, "ADJUST"},
		{UTILITY, "UTILITY"},
		{MINUS, "-"},
		{FLOAT, "1.5"},
		{ASTERISK, "*"},
		{IDENT, "a"},
		{DOT, "."},
		{IDENT, "priority"},
		{MAXIMUM, "MAXIMUM"},
		{APPLICATIONS, "APPLICATIONS"},
		{INT, "3"},
		{SEMICOLON, ";"},
		{CONSTRAINT, "CONSTRAINT"},
		{LPAREN, "("},
		{IDENT, "x"},
		{RPAREN, ")"},
		{COLON, ":"},
		{APPLIES, "APPLIES"},
		{TRUE, "TRUE"},
		{COUNT, "COUNT"},
		{LESS, "LESS"},
		{THAN, "THAN"},
		{INT, "10"},
		{SEMICOLON, ";"},
		{EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (literal %q)",
				i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	input := `rule Rule RULE exists And oR DefAult`

	expected := []TokenType{RULE, RULE, RULE, EXISTS, AND, OR, DEFAULT}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token %d: expected type %q, got %q (literal %q)",
				i, want, tok.Type, tok.Literal)
		}
	}
}

func TestComparators(t *testing.T) {
	input := `< <= > >= == !=`
	expected := []struct {
		typ     TokenType
		literal string
	}{
		{LT, "<"}, {LTE, "<="}, {GT, ">"}, {GTE, ">="}, {EQ, "=="}, {NOT_EQ, "!="},
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ || tok.Literal != want.literal {
			t.Errorf("token %d: expected (%q, %q), got (%q, %q)",
				i, want.typ, want.literal, tok.Type, tok.Literal)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	tests := []struct {
		input   string
		typ     TokenType
		literal string
	}{
		{"42", INT, "42"},
		{"0", INT, "0"},
		{"3.14", FLOAT, "3.14"},
		{"1e5", FLOAT, "1e5"},
		{"2E-3", FLOAT, "2E-3"},
		{"1.5e+2", FLOAT, "1.5e+2"},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != tt.typ {
			t.Errorf("%q: expected type %q, got %q", tt.input, tt.typ, tok.Type)
		}
		if tok.Literal != tt.literal {
			t.Errorf("%q: expected literal %q, got %q", tt.input, tt.literal, tok.Literal)
		}
	}
}

func TestSignedExponentNeedsDigits(t *testing.T) {
	// "1e+" must not be swallowed as a malformed float.
	l := New("1e+2 1e+")

	tok := l.NextToken()
	if tok.Type != FLOAT || tok.Literal != "1e+2" {
		t.Fatalf("expected FLOAT 1e+2, got %q %q", tok.Type, tok.Literal)
	}

	expected := []TokenType{INT, IDENT, PLUS, EOF}
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token %d: expected %q, got %q (literal %q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestStringLiterals(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"with spaces"`, "with spaces"},
		{`"a\"b"`, `a"b`},
		{`"back\\slash"`, `back\slash`},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != STRING {
			t.Errorf("%q: expected STRING, got %q", tt.input, tok.Type)
		}
		if tok.Literal != tt.want {
			t.Errorf("%q: expected literal %q, got %q", tt.input, tt.want, tok.Literal)
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"never closed`)
	tok := l.NextToken()
	if tok.Type != STRING {
		t.Fatalf("expected STRING, got %q", tok.Type)
	}

	diags := l.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	if diags[0].Code != "LEX-0002" {
		t.Errorf("expected LEX-0002, got %s", diags[0].Code)
	}
}

func TestIllegalCharactersAreSkipped(t *testing.T) {
	l := New("a @ b = c")

	expected := []struct {
		typ     TokenType
		literal string
	}{
		{IDENT, "a"}, {IDENT, "b"}, {IDENT, "c"}, {EOF, ""},
	}
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ || tok.Literal != want.literal {
			t.Errorf("token %d: expected (%q, %q), got (%q, %q)",
				i, want.typ, want.literal, tok.Type, tok.Literal)
		}
	}

	diags := l.Diagnostics()
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics (for '@' and lone '='), got %d", len(diags))
	}
	for _, d := range diags {
		if d.Code != "LEX-0001" {
			t.Errorf("expected LEX-0001, got %s", d.Code)
		}
	}
}

func TestLineNumbers(t *testing.T) {
	input := "a\nb # comment\nc"

	l := New(input)

	wantLines := map[string]int{"a": 1, "b": 2, "c": 3}
	for range wantLines {
		tok := l.NextToken()
		if want := wantLines[tok.Literal]; tok.Line != want {
			t.Errorf("token %q: expected line %d, got %d", tok.Literal, want, tok.Line)
		}
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	input := `# leading comment
RULE # trailing comment
# another
;`

	l := New(input)
	expected := []TokenType{RULE, SEMICOLON, EOF}
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token %d: expected %q, got %q", i, want, tok.Type)
		}
	}
}

func TestSaveRestoreState(t *testing.T) {
	l := New("a b c")

	first := l.NextToken()
	if first.Literal != "a" {
		t.Fatalf("expected a, got %q", first.Literal)
	}

	state := l.SaveState()
	second := l.NextToken()
	if second.Literal != "b" {
		t.Fatalf("expected b, got %q", second.Literal)
	}

	l.RestoreState(state)
	again := l.NextToken()
	if again.Literal != "b" {
		t.Errorf("after restore expected b, got %q", again.Literal)
	}
}

func TestRestoreStateDropsDiagnostics(t *testing.T) {
	l := New("a @ b")

	if tok := l.NextToken(); tok.Literal != "a" {
		t.Fatalf("expected a, got %q", tok.Literal)
	}

	state := l.SaveState()
	if tok := l.NextToken(); tok.Literal != "b" {
		t.Fatalf("expected b, got %q", tok.Literal)
	}
	if len(l.Diagnostics()) != 1 {
		t.Fatalf("expected 1 diagnostic before restore, got %d", len(l.Diagnostics()))
	}

	l.RestoreState(state)
	if len(l.Diagnostics()) != 0 {
		t.Errorf("expected diagnostics dropped on restore, got %d", len(l.Diagnostics()))
	}
}
