// Package config loads run-level configuration for the engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/weir-run/weir/internal/refspec"
)

// SecurityMode governs what an integrity verification failure does.
type SecurityMode string

const (
	SecurityStrict     SecurityMode = "strict"
	SecurityWarn       SecurityMode = "warn"
	SecurityPermissive SecurityMode = "permissive"
)

// ParseSecurityMode maps a configured string onto a mode. Unknown strings fall
// back to strict; ok reports whether the input was recognized so the caller
// can warn. Unknown configuration must never degrade to the least-safe
// behavior.
func ParseSecurityMode(s string) (mode SecurityMode, ok bool) {
	switch SecurityMode(s) {
	case SecurityStrict, SecurityWarn, SecurityPermissive:
		return SecurityMode(s), true
	case "":
		return SecurityStrict, true
	default:
		return SecurityStrict, false
	}
}

// ErrorStrategy governs how task validation failures are handled.
type ErrorStrategy string

const (
	StrategyTerminate ErrorStrategy = "terminate"
	StrategyIgnore    ErrorStrategy = "ignore"
)

// ExecutorConfig selects and configures a task execution backend.
type ExecutorConfig struct {
	Type           string         `yaml:"type"` // local, docker, modal
	Image          string         `yaml:"image,omitempty"`
	CPUs           string         `yaml:"cpus,omitempty"`
	Memory         string         `yaml:"memory,omitempty"`
	ProviderConfig map[string]any `yaml:"provider_config,omitempty"`
}

// RunConfig is the configuration surface the core consumes.
type RunConfig struct {
	Name           string         `yaml:"name,omitempty"`
	WorkDir        string         `yaml:"work_dir"`
	ModulesRoot    string         `yaml:"modules_root"`
	Security       string         `yaml:"security"`
	ErrorStrategy  ErrorStrategy  `yaml:"error_strategy"`
	ValidExitCodes []int          `yaml:"valid_exit_codes"`
	EchoOutput     bool           `yaml:"echo_output"`
	ForceReinstall bool           `yaml:"force_reinstall"`
	LogLevel       string         `yaml:"log_level,omitempty"`
	Executor       ExecutorConfig `yaml:"executor"`
}

// DefaultRunConfig returns a RunConfig with default values.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		WorkDir:        "work",
		ModulesRoot:    "modules",
		Security:       string(SecurityStrict),
		ErrorStrategy:  StrategyTerminate,
		ValidExitCodes: []int{0},
		EchoOutput:     false,
		Executor:       ExecutorConfig{Type: "local"},
	}
}

// LoadRunConfig loads and parses a run configuration file, overlaying values
// onto the defaults.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config: %w", err)
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = "work"
	}
	if cfg.ModulesRoot == "" {
		cfg.ModulesRoot = "modules"
	}
	if len(cfg.ValidExitCodes) == 0 {
		cfg.ValidExitCodes = []int{0}
	}
	if cfg.ErrorStrategy == "" {
		cfg.ErrorStrategy = StrategyTerminate
	}
	if cfg.Executor.Type == "" {
		cfg.Executor.Type = "local"
	}
	return cfg, nil
}

// ExitCodeSet converts the configured valid exit codes into a membership set.
func (c RunConfig) ExitCodeSet() map[int]bool {
	set := make(map[int]bool, len(c.ValidExitCodes))
	for _, code := range c.ValidExitCodes {
		set[code] = true
	}
	return set
}

// LoadTokens reads provider access tokens from the environment, after loading
// an optional .env file under root. Missing tokens are fine; fetches of public
// repositories need none.
func LoadTokens(root string) map[refspec.Provider]string {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load(filepath.Join(root, ".env"))

	tokens := make(map[refspec.Provider]string)
	for provider, envVar := range map[refspec.Provider]string{
		refspec.ProviderGitHub:    "GITHUB_TOKEN",
		refspec.ProviderGitLab:    "GITLAB_TOKEN",
		refspec.ProviderBitbucket: "BITBUCKET_TOKEN",
	} {
		if v := os.Getenv(envVar); v != "" {
			tokens[provider] = v
		}
	}
	return tokens
}
