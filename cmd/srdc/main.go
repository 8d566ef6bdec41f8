package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/gzip"

	"github.com/srdtools/srd/config"
	"github.com/srdtools/srd/pkg/pool"
	"github.com/srdtools/srd/pkg/srd/ast"
	"github.com/srdtools/srd/pkg/srd/repl"
	"github.com/srdtools/srd/pkg/srd/srd"
)

// Version is set at compile time via -ldflags
var Version = "0.3.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "compile":
			os.Exit(compileCommand(os.Args[2:]))
		case "eval":
			os.Exit(evalCommand(os.Args[2:]))
		case "repl":
			repl.Start(os.Stdout, Version)
			return
		case "version", "-V", "--version":
			fmt.Printf("srdc version %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	printHelp()
	os.Exit(2)
}

func printHelp() {
	fmt.Printf(`srdc - SRD rules compiler and evaluator version %s

Usage:
  srdc compile [options] <file.srd>
  srdc eval [options] <file.srd>
  srdc repl
  srdc version

Commands:
  compile               Compile an SRD program to interchange JSON
  eval                  Evaluate an SRD program against a record pool
  repl                  Start the interactive shell
  version               Show version information

Compile Options:
  -o <file>             Write output to file instead of stdout
  --indent <n>          JSON indent width (default from config)
  --gzip                Gzip-compress the output artifact
  --watch               Recompile whenever the source file changes
  --config <file>       Load configuration from a YAML file

Eval Options:
  --pool <file>         Load records from a JSON pool file
  --db <file>           Load records from an ASDPDB sqlite database
  --bin <n>             Bin to evaluate (default 0)
  --max-expansions <n>  Refuse runs whose assignment count exceeds n
  --quiet               Suppress per-application log lines
  --config <file>       Load configuration from a YAML file

Exit codes:
  0  success
  1  compile or evaluation error
  2  usage or file error

Examples:
  srdc compile rules.srd                 Print interchange JSON
  srdc compile -o rules.json rules.srd   Write artifact to a file
  srdc compile --gzip -o rules.json.gz rules.srd
  srdc compile --watch rules.srd         Recompile on every save
  srdc eval --pool products.json --bin 2 rules.srd
  srdc eval --db asdpdb.sqlite rules.srd
`, Version)
}

// loadConfig reads the YAML config named by --config, or defaults.
func loadConfig(path string) (*config.Config, int) {
	cfg, err := config.Load(path, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, 2
	}
	return cfg, 0
}

func compileCommand(args []string) int {
	var (
		outPath    string
		configPath string
		indent     = -1
		gzipOut    bool
		watch      bool
		files      []string
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: -o requires a file argument")
				return 2
			}
			outPath = args[i]
		case "--indent":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --indent requires a number")
				return 2
			}
			if _, err := fmt.Sscanf(args[i], "%d", &indent); err != nil || indent < 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid indent %q\n", args[i])
				return 2
			}
		case "--gzip":
			gzipOut = true
		case "--watch":
			watch = true
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --config requires a file argument")
				return 2
			}
			configPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Error: unknown option %s\n", args[i])
				return 2
			}
			files = append(files, args[i])
		}
	}

	if len(files) != 1 {
		fmt.Fprintln(os.Stderr, "Error: compile requires exactly one source file")
		return 2
	}
	srcPath := files[0]

	cfg, code := loadConfig(configPath)
	if code != 0 {
		return code
	}
	if indent < 0 {
		indent = cfg.Output.Indent
	}
	gzipOut = gzipOut || cfg.Output.Gzip

	if watch {
		return watchCompile(srcPath, outPath, indent, gzipOut, cfg.Watch.DebounceMs)
	}
	return compileOnce(srcPath, outPath, indent, gzipOut)
}

// compileOnce compiles a single file and writes the artifact.
func compileOnce(srcPath, outPath string, indent int, gzipOut bool) int {
	rs, diagnostics, err := srd.CompileFile(srcPath)
	for _, d := range diagnostics {
		fmt.Fprintln(os.Stderr, d)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if os.IsNotExist(err) || strings.Contains(err.Error(), "reading") {
			return 2
		}
		return 1
	}

	data, err := marshalRuleSet(rs, indent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if outPath == "" {
		if gzipOut {
			fmt.Fprintln(os.Stderr, "Error: --gzip requires -o")
			return 2
		}
		os.Stdout.Write(data)
		fmt.Println()
		return 0
	}

	if err := writeArtifact(outPath, data, gzipOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func marshalRuleSet(rs *ast.RuleSet, indent int) ([]byte, error) {
	if indent > 0 {
		return json.MarshalIndent(rs, "", strings.Repeat(" ", indent))
	}
	return json.Marshal(rs)
}

func writeArtifact(path string, data []byte, gzipOut bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer f.Close()

	if gzipOut {
		zw := gzip.NewWriter(f)
		zw.Name = filepath.Base(strings.TrimSuffix(path, ".gz"))
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		return nil
	}

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// watchCompile recompiles srcPath whenever it changes, debouncing
// bursts of editor write events. Compile failures are reported but do
// not stop the watch.
func watchCompile(srcPath, outPath string, indent int, gzipOut bool, debounceMs int) int {
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --watch requires -o")
		return 2
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer watcher.Close()

	// Watch the directory, not the file. Editors replace files on
	// save, which drops a file-level watch.
	dir := filepath.Dir(srcPath)
	if err := watcher.Add(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: watching %s: %v\n", dir, err)
		return 2
	}

	absSrc, err := filepath.Abs(srcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	compileOnce(srcPath, outPath, indent, gzipOut)
	fmt.Fprintf(os.Stderr, "watching %s\n", srcPath)

	debounce := time.Duration(debounceMs) * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return 0
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != absSrc {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			fmt.Fprintf(os.Stderr, "recompiling %s\n", srcPath)
			compileOnce(srcPath, outPath, indent, gzipOut)

		case err, ok := <-watcher.Errors:
			if !ok {
				return 0
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func evalCommand(args []string) int {
	var (
		poolPath      string
		dbPath        string
		configPath    string
		bin           int
		maxExpansions int64 = -1
		quiet         bool
		files         []string
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--pool":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --pool requires a file argument")
				return 2
			}
			poolPath = args[i]
		case "--db":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --db requires a file argument")
				return 2
			}
			dbPath = args[i]
		case "--bin":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --bin requires a number")
				return 2
			}
			if _, err := fmt.Sscanf(args[i], "%d", &bin); err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid bin %q\n", args[i])
				return 2
			}
		case "--max-expansions":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --max-expansions requires a number")
				return 2
			}
			if _, err := fmt.Sscanf(args[i], "%d", &maxExpansions); err != nil || maxExpansions < 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid expansion bound %q\n", args[i])
				return 2
			}
		case "--quiet":
			quiet = true
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --config requires a file argument")
				return 2
			}
			configPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Error: unknown option %s\n", args[i])
				return 2
			}
			files = append(files, args[i])
		}
	}

	if len(files) != 1 {
		fmt.Fprintln(os.Stderr, "Error: eval requires exactly one source file")
		return 2
	}
	if poolPath == "" && dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: eval requires --pool or --db")
		return 2
	}
	if poolPath != "" && dbPath != "" {
		fmt.Fprintln(os.Stderr, "Error: --pool and --db are mutually exclusive")
		return 2
	}

	cfg, code := loadConfig(configPath)
	if code != 0 {
		return code
	}
	if maxExpansions < 0 {
		maxExpansions = cfg.Eval.MaxExpansions
	}
	if quiet {
		cfg.Eval.LogApplications = false
	}

	rs, diagnostics, err := srd.CompileFile(files[0])
	for _, d := range diagnostics {
		fmt.Fprintln(os.Stderr, d)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if strings.Contains(err.Error(), "reading") {
			return 2
		}
		return 1
	}

	var records ast.Pool
	if poolPath != "" {
		records, err = pool.FromJSON(poolPath)
	} else {
		records, err = pool.FromSQLite(dbPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if maxExpansions > 0 {
		if est := estimateExpansions(rs, bin, len(records)); est > float64(maxExpansions) {
			fmt.Fprintf(os.Stderr,
				"Error: evaluation would enumerate about %.3g assignments, above the bound of %d\n",
				est, maxExpansions)
			return 2
		}
	}

	result, err := rs.Apply(bin, records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := srd.WriterLogger(os.Stdout)
	if cfg.Eval.LogApplications {
		for _, app := range result.Applications {
			logger.LogLine("applied", formatAssignment(app.AssignedIDs), "adjust", app.Adjustment)
		}
	}

	if !result.Satisfied {
		logger.LogLine("constraints: VIOLATED")
		logger.LogLine("utility adjustment: 0")
		return 0
	}
	logger.LogLine("constraints: satisfied")
	logger.LogLine("utility adjustment:", result.Utility)
	return 0
}

// estimateExpansions returns the total assignment count the bin's
// declarations would enumerate: poolSize^k per declaration with k
// variables. Computed in floating point so huge programs don't
// overflow before the guard fires.
func estimateExpansions(rs *ast.RuleSet, bin, poolSize int) float64 {
	decls := rs.DeclarationsFor(bin)
	if decls == nil {
		return 0
	}
	total := 0.0
	for _, rule := range decls.Rules {
		total += math.Pow(float64(poolSize), float64(len(rule.Variables)))
	}
	for _, constraint := range decls.Constraints {
		total += math.Pow(float64(poolSize), float64(len(constraint.Variables)))
	}
	return total
}

func formatAssignment(ids map[string]any) string {
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
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
