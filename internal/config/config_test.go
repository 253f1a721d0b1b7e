package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/weir-run/weir/internal/config"
)

func TestDefaultRunConfig(t *testing.T) {
	cfg := config.DefaultRunConfig()

	if cfg.WorkDir != "work" {
		t.Errorf("expected work dir 'work', got %s", cfg.WorkDir)
	}
	if cfg.Security != string(config.SecurityStrict) {
		t.Errorf("expected strict default security, got %s", cfg.Security)
	}
	if cfg.ErrorStrategy != config.StrategyTerminate {
		t.Errorf("expected terminate default strategy, got %s", cfg.ErrorStrategy)
	}
	if len(cfg.ValidExitCodes) != 1 || cfg.ValidExitCodes[0] != 0 {
		t.Errorf("expected valid exit codes [0], got %v", cfg.ValidExitCodes)
	}
	if cfg.Executor.Type != "local" {
		t.Errorf("expected local executor default, got %s", cfg.Executor.Type)
	}
}

func TestLoadRunConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := `
name: demo
security: warn
error_strategy: ignore
valid_exit_codes: [0, 141]
echo_output: true
executor:
  type: docker
  image: ubuntu:24.04
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig failed: %v", err)
	}
	if cfg.Name != "demo" || cfg.Security != "warn" || !cfg.EchoOutput {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.ErrorStrategy != config.StrategyIgnore {
		t.Errorf("expected ignore strategy, got %s", cfg.ErrorStrategy)
	}
	// Defaults still applied for unset fields.
	if cfg.WorkDir != "work" || cfg.ModulesRoot != "modules" {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	set := cfg.ExitCodeSet()
	if !set[0] || !set[141] || set[1] {
		t.Errorf("unexpected exit code set: %v", set)
	}
}

func TestParseSecurityMode(t *testing.T) {
	cases := []struct {
		in     string
		mode   config.SecurityMode
		wantOK bool
	}{
		{"strict", config.SecurityStrict, true},
		{"warn", config.SecurityWarn, true},
		{"permissive", config.SecurityPermissive, true},
		{"", config.SecurityStrict, true},
		{"paranoid", config.SecurityStrict, false}, // unknown falls back to strict
	}
	for _, tc := range cases {
		mode, ok := config.ParseSecurityMode(tc.in)
		if mode != tc.mode || ok != tc.wantOK {
			t.Errorf("ParseSecurityMode(%q) = (%s, %t), want (%s, %t)", tc.in, mode, ok, tc.mode, tc.wantOK)
		}
	}
}
