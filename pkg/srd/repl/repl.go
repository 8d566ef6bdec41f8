// Package repl implements the interactive SRD shell.
//
// Declarations are accumulated across lines until a terminating ';',
// then compiled and echoed back as interchange JSON. Meta-commands
// (":pool", ":db", ":bin", ":eval") load a record pool and run the
// accumulated program against it.
package repl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/srdtools/srd/pkg/pool"
	"github.com/srdtools/srd/pkg/srd/ast"
	"github.com/srdtools/srd/pkg/srd/srd"
)

const PROMPT = "srd> "
const CONTINUATION_PROMPT = "...> "

// SRD keywords for tab completion.
var completionWords = []string{
	"bin", "default", "rule", "constraint",
	"applies", "adjust", "utility", "maximum", "applications",
	"count", "sum", "less", "than", "exists",
	"and", "or", "not", "true", "false",
}

// session holds the REPL's mutable state between commands.
type session struct {
	source  strings.Builder // accepted declarations so far
	pool    ast.Pool
	poolSrc string
	bin     int
}

// Start runs the REPL with line editing, history, and tab completion.
func Start(out io.Writer, version string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(line string) []string {
		return filterCompletions(line)
	})

	historyFile := filepath.Join(os.TempDir(), ".srd_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintf(out, "srd v%s\n", version)
	fmt.Fprintln(out, "Type declarations ending in ';'. Type ':help' for commands, Ctrl+D to quit.")
	fmt.Fprintln(out, "")

	sess := &session{}
	var inputBuffer strings.Builder

	for {
		currentPrompt := PROMPT
		if inputBuffer.Len() > 0 {
			currentPrompt = CONTINUATION_PROMPT
		}
		input, err := line.Prompt(currentPrompt)
		if err != nil {
			if err == liner.ErrPromptAborted {
				if inputBuffer.Len() > 0 {
					fmt.Fprintln(out, "^C (cleared)")
				} else {
					fmt.Fprintln(out, "^C")
				}
				inputBuffer.Reset()
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}

		trimmed := strings.TrimSpace(input)
		if inputBuffer.Len() == 0 && (trimmed == "exit" || trimmed == "quit") {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		if inputBuffer.Len() == 0 && strings.HasPrefix(trimmed, ":") {
			if quit := handleReplCommand(trimmed, sess, out); quit {
				fmt.Fprintln(out, "Goodbye!")
				return
			}
			continue
		}

		if inputBuffer.Len() == 0 && trimmed == "" {
			continue
		}

		if inputBuffer.Len() > 0 {
			inputBuffer.WriteString("\n")
		}
		inputBuffer.WriteString(input)

		// A declaration is complete once a ';' appears outside a string.
		fullInput := inputBuffer.String()
		if !hasTerminator(fullInput) {
			continue
		}

		if trimmed != "" {
			line.AppendHistory(fullInput)
		}

		// Compile the session's prior declarations plus the new input
		// together, so bin membership and earlier rules carry forward.
		candidate := sess.source.String() + fullInput + "\n"
		rs, diagnostics, err := srd.CompileString(candidate)
		for _, d := range diagnostics {
			fmt.Fprintln(out, d)
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			inputBuffer.Reset()
			continue
		}

		sess.source.Reset()
		sess.source.WriteString(candidate)
		printRuleSet(out, rs)
		inputBuffer.Reset()
	}
}

// handleReplCommand handles REPL meta-commands that start with ':'.
// Returns true when the REPL should exit.
func handleReplCommand(cmd string, sess *session, out io.Writer) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "REPL Commands:")
		fmt.Fprintln(out, "  :help, :h, :?   Show this help")
		fmt.Fprintln(out, "  :pool FILE      Load a JSON record pool")
		fmt.Fprintln(out, "  :db FILE        Load a pool from an ASDPDB sqlite database")
		fmt.Fprintln(out, "  :bin N          Select the bin to evaluate (default 0)")
		fmt.Fprintln(out, "  :eval           Evaluate the session's rules against the pool")
		fmt.Fprintln(out, "  :show           Print the session's declarations")
		fmt.Fprintln(out, "  :clear          Discard all declarations")
		fmt.Fprintln(out, "  :quit           Exit the REPL")
		return false

	case ":pool":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :pool FILE")
			return false
		}
		p, err := pool.FromJSON(fields[1])
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		sess.pool = p
		sess.poolSrc = fields[1]
		fmt.Fprintf(out, "loaded %d records from %s\n", len(p), fields[1])
		return false

	case ":db":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :db FILE")
			return false
		}
		p, err := pool.FromSQLite(fields[1])
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		sess.pool = p
		sess.poolSrc = fields[1]
		fmt.Fprintf(out, "loaded %d records from %s\n", len(p), fields[1])
		return false

	case ":bin":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :bin N")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(out, "not a bin number: %s\n", fields[1])
			return false
		}
		sess.bin = n
		fmt.Fprintf(out, "bin %d selected\n", n)
		return false

	case ":eval":
		evalSession(sess, out)
		return false

	case ":show":
		src := strings.TrimSpace(sess.source.String())
		if src == "" {
			fmt.Fprintln(out, "(no declarations)")
		} else {
			fmt.Fprintln(out, src)
		}
		return false

	case ":clear":
		sess.source.Reset()
		fmt.Fprintln(out, "Declarations cleared")
		return false

	case ":quit", ":q":
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s (type :help for commands)\n", cmd)
		return false
	}
}

func evalSession(sess *session, out io.Writer) {
	if sess.pool == nil {
		fmt.Fprintln(out, "no pool loaded (use :pool FILE or :db FILE)")
		return
	}
	src := sess.source.String()
	if strings.TrimSpace(src) == "" {
		fmt.Fprintln(out, "no declarations to evaluate")
		return
	}

	rs, _, err := srd.CompileString(src)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}

	result, err := rs.Apply(sess.bin, sess.pool)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}

	fmt.Fprintf(out, "bin %d over %d records (%s)\n", sess.bin, len(sess.pool), sess.poolSrc)
	if !result.Satisfied {
		fmt.Fprintln(out, "constraints: VIOLATED")
		return
	}
	fmt.Fprintln(out, "constraints: satisfied")
	fmt.Fprintf(out, "utility adjustment: %g\n", result.Utility)
	for _, app := range result.Applications {
		fmt.Fprintf(out, "  applied %s adjust %g\n", formatAssignment(app.AssignedIDs), app.Adjustment)
	}
}

func formatAssignment(ids map[string]any) string {
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	// Stable output for small maps.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, ids[name])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func printRuleSet(out io.Writer, rs *ast.RuleSet) {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	out.Write(data)
	fmt.Fprintln(out, "")
}

// filterCompletions returns keyword suggestions for the word being typed.
func filterCompletions(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if line[len(line)-1] == ' ' || line[len(line)-1] == '\t' {
		return nil
	}

	words := strings.Fields(line)
	lastWord := strings.ToLower(words[len(words)-1])
	prefix := line[:len(line)-len(words[len(words)-1])]

	var matches []string
	for _, word := range completionWords {
		if strings.HasPrefix(word, lastWord) {
			matches = append(matches, prefix+word)
		}
	}
	return matches
}

// hasTerminator reports whether input contains a ';' outside a string
// literal or comment.
func hasTerminator(input string) bool {
	inString := false
	inComment := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
			}
		case inString:
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
		case ch == '"':
			inString = true
		case ch == '#':
			inComment = true
		case ch == ';':
			return true
		}
	}
	return false
}
