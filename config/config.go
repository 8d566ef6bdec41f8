// Package config holds the srdc tool configuration.
package config

// Config is the top-level srdc configuration.
type Config struct {
	Output OutputConfig `yaml:"output"`
	Eval   EvalConfig   `yaml:"eval"`
	Watch  WatchConfig  `yaml:"watch"`
}

// OutputConfig controls how the interchange artifact is written.
type OutputConfig struct {
	Indent int  `yaml:"indent"` // JSON indent width (0 = compact)
	Gzip   bool `yaml:"gzip"`   // write gzip-compressed artifact
}

// EvalConfig controls evaluation runs.
type EvalConfig struct {
	// MaxExpansions refuses an evaluation whose estimated assignment
	// count (pool size ^ variable count, summed over declarations)
	// exceeds this bound. 0 disables the guard; the language itself
	// has no cancellation primitive.
	MaxExpansions   int64 `yaml:"max_expansions"`
	LogApplications bool  `yaml:"log_applications"`
}

// WatchConfig controls compile --watch behavior.
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Output: OutputConfig{
			Indent: 2,
		},
		Eval: EvalConfig{
			LogApplications: true,
		},
		Watch: WatchConfig{
			DebounceMs: 250,
		},
	}
}
