package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} references in config files.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file with ${ENV} interpolation.
// An empty path returns the defaults.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data = interpolateEnv(data, getenv)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} references with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(getenv(string(name)))
	})
}

func validate(cfg *Config) error {
	if cfg.Output.Indent < 0 {
		return fmt.Errorf("output.indent must be non-negative, got %d", cfg.Output.Indent)
	}
	if cfg.Eval.MaxExpansions < 0 {
		return fmt.Errorf("eval.max_expansions must be non-negative, got %d", cfg.Eval.MaxExpansions)
	}
	if cfg.Watch.DebounceMs <= 0 {
		return fmt.Errorf("watch.debounce_ms must be positive, got %d", cfg.Watch.DebounceMs)
	}
	return nil
}
