package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "srdc.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Output.Indent != 2 {
		t.Errorf("expected indent 2, got %d", cfg.Output.Indent)
	}
	if cfg.Output.Gzip {
		t.Error("gzip should default off")
	}
	if !cfg.Eval.LogApplications {
		t.Error("application logging should default on")
	}
	if cfg.Watch.DebounceMs != 250 {
		t.Errorf("expected debounce 250ms, got %d", cfg.Watch.DebounceMs)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("", os.Getenv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Indent != 2 {
		t.Errorf("expected defaults, got indent %d", cfg.Output.Indent)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
output:
  indent: 4
  gzip: true
eval:
  max_expansions: 1000000
watch:
  debounce_ms: 100
`)

	cfg, err := Load(path, os.Getenv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Indent != 4 {
		t.Errorf("expected indent 4, got %d", cfg.Output.Indent)
	}
	if !cfg.Output.Gzip {
		t.Error("expected gzip on")
	}
	if cfg.Eval.MaxExpansions != 1000000 {
		t.Errorf("expected max_expansions 1000000, got %d", cfg.Eval.MaxExpansions)
	}
	if cfg.Watch.DebounceMs != 100 {
		t.Errorf("expected debounce 100, got %d", cfg.Watch.DebounceMs)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
output:
  gzip: true
`)

	cfg, err := Load(path, os.Getenv)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Output.Gzip {
		t.Error("expected gzip on")
	}
	if cfg.Watch.DebounceMs != 250 {
		t.Errorf("unset keys keep defaults, got debounce %d", cfg.Watch.DebounceMs)
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	path := writeConfig(t, `
eval:
  max_expansions: ${SRD_MAX_EXPANSIONS}
`)

	getenv := func(name string) string {
		if name == "SRD_MAX_EXPANSIONS" {
			return "42"
		}
		return ""
	}

	cfg, err := Load(path, getenv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Eval.MaxExpansions != 42 {
		t.Errorf("expected 42 from the environment, got %d", cfg.Eval.MaxExpansions)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
watch:
  debounce_ms: -5
`)

	_, err := Load(path, os.Getenv)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "debounce_ms") {
		t.Errorf("expected the bad key in the error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), os.Getenv)
	if err == nil {
		t.Fatal("expected a read error")
	}
}
