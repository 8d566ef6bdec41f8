// Package errors provides structured error types for the SRD compiler.
//
// This package defines SRDError, a unified error type that covers both
// compile-time failures (lexing, parsing, validation) and evaluation-time
// failures with enough metadata for display and programmatic handling.
package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrorClass categorizes errors for filtering and templating.
type ErrorClass string

const (
	ClassLex       ErrorClass = "lex"       // Unmappable input characters (recoverable)
	ClassParse     ErrorClass = "parse"     // Token stream doesn't match grammar
	ClassDuplicate ErrorClass = "duplicate" // Duplicate variables or bin keys
	ClassScope     ErrorClass = "scope"     // Field reference outside declared variables
	ClassField     ErrorClass = "field"     // Variable/field lookup failure at evaluation
	ClassValue     ErrorClass = "value"     // Invalid value operations (mixed-type ordering)
)

// SRDError represents any error from compiling or evaluating SRD programs.
type SRDError struct {
	Class   ErrorClass     `json:"class"`           // Error category
	Code    string         `json:"code"`            // Error code (e.g. "SCOPE-0001")
	Message string         `json:"message"`         // Human-readable message
	Hints   []string       `json:"hints,omitempty"` // Suggestions for fixing
	Line    int            `json:"line"`            // 1-based line (0 if unknown)
	File    string         `json:"file,omitempty"`  // Source path (if known)
	Data    map[string]any `json:"data,omitempty"`  // Template variables
}

// Error implements the error interface.
func (e *SRDError) Error() string {
	return e.String()
}

// String returns a formatted string representation of the error.
func (e *SRDError) String() string {
	var sb strings.Builder

	if e.File != "" {
		sb.WriteString(e.File)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf("line %d: ", e.Line))
	}

	sb.WriteString(e.Message)

	for _, hint := range e.Hints {
		sb.WriteString("\n  ")
		sb.WriteString(hint)
	}

	return sb.String()
}

// ToJSON returns the error as JSON bytes.
func (e *SRDError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WithFile returns a copy of the error with the file path set.
func (e *SRDError) WithFile(file string) *SRDError {
	copy := *e
	copy.File = file
	return &copy
}

// WithLine returns a copy of the error with the source line set.
func (e *SRDError) WithLine(line int) *SRDError {
	copy := *e
	copy.Line = line
	return &copy
}

// IsCompileError reports whether the error kind aborts compilation.
func (e *SRDError) IsCompileError() bool {
	switch e.Class {
	case ClassParse, ClassDuplicate, ClassScope:
		return true
	}
	return false
}

// ErrorDef defines an error in the catalog.
type ErrorDef struct {
	Class    ErrorClass // Error category
	Template string     // Message template with {{.placeholders}}
	Hints    []string   // Hint templates (may use {{.placeholders}})
}

// ErrorCatalog maps error codes to their definitions.
var ErrorCatalog = map[string]ErrorDef{
	// Lexer errors (LEX-0xxx)
	"LEX-0001": {
		Class:    ClassLex,
		Template: "illegal character {{.Char}}",
	},
	"LEX-0002": {
		Class:    ClassLex,
		Template: "unterminated string literal",
	},

	// Parse errors (PARSE-0xxx)
	"PARSE-0001": {
		Class:    ClassParse,
		Template: "expected {{.Expected}}, got '{{.Got}}'",
	},
	"PARSE-0002": {
		Class:    ClassParse,
		Template: "unexpected token '{{.Token}}'",
	},
	"PARSE-0003": {
		Class:    ClassParse,
		Template: "invalid number literal: {{.Literal}}",
	},
	"PARSE-0004": {
		Class:    ClassParse,
		Template: "expected a condition, got '{{.Got}}'",
		Hints:    []string{"conditions are comparisons, TRUE/FALSE, NOT/AND/OR combinations, or EXISTS v : ( ... )"},
	},
	"PARSE-0005": {
		Class:    ClassParse,
		Template: "expected a declaration (RULE or CONSTRAINT), got '{{.Got}}'",
	},

	// Duplicate errors (DUP-0xxx)
	"DUP-0001": {
		Class:    ClassDuplicate,
		Template: "duplicate variable '{{.Variable}}' in declaration",
	},
	"DUP-0002": {
		Class:    ClassDuplicate,
		Template: "duplicate bin definition: {{.Bin}}",
	},

	// Scope errors (SCOPE-0xxx)
	"SCOPE-0001": {
		Class:    ClassScope,
		Template: "variable '{{.Variable}}' not in scope",
		Hints:    []string{"declare it in the variable list of the enclosing RULE or CONSTRAINT"},
	},

	// Field errors (FIELD-0xxx), raised during evaluation
	"FIELD-0001": {
		Class:    ClassField,
		Template: "variable '{{.Variable}}' is not bound to a record",
	},
	"FIELD-0002": {
		Class:    ClassField,
		Template: "record has no field '{{.Field}}'",
	},

	// Value errors (VALUE-0xxx), raised during evaluation
	"VALUE-0001": {
		Class:    ClassValue,
		Template: "cannot order {{.LeftType}} and {{.RightType}} with '{{.Comparator}}'",
	},
	"VALUE-0002": {
		Class:    ClassValue,
		Template: "operand of '{{.Operator}}' is not a number",
	},
}

// New creates an error from the catalog with template data.
func New(code string, data map[string]any) *SRDError {
	def, ok := ErrorCatalog[code]
	if !ok {
		return &SRDError{
			Class:   ClassParse,
			Code:    code,
			Message: "unknown error: " + code,
			Data:    data,
		}
	}

	message := renderTemplate(def.Template, data)

	var hints []string
	for _, hint := range def.Hints {
		hints = append(hints, renderTemplate(hint, data))
	}

	return &SRDError{
		Class:   def.Class,
		Code:    code,
		Message: message,
		Hints:   hints,
		Data:    data,
	}
}

// NewSimple creates an error with a custom message outside the catalog.
func NewSimple(class ErrorClass, message string) *SRDError {
	return &SRDError{
		Class:   class,
		Message: message,
	}
}

// IsMissingField reports whether err is a variable/field lookup failure.
// This is the only error kind tolerated inside existential scanning.
func IsMissingField(err error) bool {
	var se *SRDError
	if errors.As(err, &se) {
		return se.Class == ClassField
	}
	return false
}

// ClassOf returns the error class of err, or "" for non-SRD errors.
func ClassOf(err error) ErrorClass {
	var se *SRDError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

// renderTemplate renders a Go template with the given data.
func renderTemplate(tmplStr string, data map[string]any) string {
	if data == nil {
		return tmplStr
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return tmplStr
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return tmplStr
	}

	return buf.String()
}
