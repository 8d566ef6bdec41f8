// Package srd provides the public API for compiling SRD (Rules
// Definition) programs into evaluable rule sets.
package srd

import (
	"fmt"
	"os"

	"github.com/srdtools/srd/pkg/srd/ast"
	srderrors "github.com/srdtools/srd/pkg/srd/errors"
	"github.com/srdtools/srd/pkg/srd/lexer"
	"github.com/srdtools/srd/pkg/srd/parser"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a non-fatal message produced during compilation:
// unused declared variables and skipped illegal characters. Callers
// choose whether to log, test against, or discard them.
type Diagnostic struct {
	Severity Severity
	Message  string
	Line     int
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", d.Severity, d.Line, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// CompileString compiles SRD source text into a rule set. Compilation
// constructs a fresh lexer and parser per call, so concurrent compiles
// of independent programs are safe.
//
// The returned diagnostics are non-fatal; err is non-nil only for
// fatal failures (parse, scope, duplicate variable/bin), in which case
// the rule set must not be used.
func CompileString(source string) (*ast.RuleSet, []Diagnostic, error) {
	l := lexer.New(source)
	p := parser.New(l)

	rs := p.ParseRuleSet()

	var diagnostics []Diagnostic
	for _, lexErr := range l.Diagnostics() {
		diagnostics = append(diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Message:  lexErr.Message,
			Line:     lexErr.Line,
		})
	}
	for _, warning := range p.Warnings() {
		diagnostics = append(diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Message:  warning.Message,
			Line:     warning.Line,
		})
	}

	if errs := p.StructuredErrors(); len(errs) > 0 {
		return nil, diagnostics, errs[0]
	}
	return rs, diagnostics, nil
}

// CompileFile compiles the SRD program in the named file. Errors carry
// the file path alongside the source line.
func CompileFile(path string) (*ast.RuleSet, []Diagnostic, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rs, diagnostics, err := CompileString(string(source))
	if err != nil {
		if se, ok := err.(*srderrors.SRDError); ok {
			return nil, diagnostics, se.WithFile(path)
		}
		return nil, diagnostics, err
	}
	return rs, diagnostics, nil
}
