package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/weir-run/weir/internal/config"
	"github.com/weir-run/weir/internal/environment"
	"github.com/weir-run/weir/internal/environment/docker"
	"github.com/weir-run/weir/internal/environment/modal"
	"github.com/weir-run/weir/internal/executor"
	"github.com/weir-run/weir/internal/modules"
	"github.com/weir-run/weir/internal/repo"
	"github.com/weir-run/weir/internal/taskproc"
)

// Summary describes one completed pipeline run.
type Summary struct {
	Pipeline string
	Tasks    int
	Duration time.Duration
}

// RunFromConfig loads a pipeline and its run configuration, resolves all
// includes and executes the process graph. This is the entry point the CLI
// uses.
func RunFromConfig(ctx context.Context, pipelinePath, configPath string) (*Summary, error) {
	cfg := config.DefaultRunConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadRunConfig(configPath)
		if err != nil {
			return nil, err
		}
	}
	setupLogging(cfg.LogLevel)

	def, err := Load(pipelinePath)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	fetcher, err := repo.NewGitFetcher(config.LoadTokens(root))
	if err != nil {
		return nil, err
	}
	defer fetcher.Cleanup()

	resolver, err := modules.NewResolver(root, fetcher, cfg.Security)
	if err != nil {
		return nil, err
	}
	resolver.ForceReinstall = cfg.ForceReinstall

	start := time.Now()
	slog.Info("resolving includes", "pipeline", def.Name, "count", len(def.Includes))
	if err := def.ResolveIncludes(ctx, resolver); err != nil {
		return nil, err
	}

	exec, cleanup, err := buildExecutor(cfg.Executor)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup(ctx)
	}

	run := taskproc.NewRun(ctx, cfg)
	slog.Info("starting pipeline", "name", def.Name, "processes", len(def.Processes))
	if err := NewRunner(def, run, exec).Execute(ctx); err != nil {
		return nil, err
	}

	return &Summary{
		Pipeline: def.Name,
		Tasks:    run.TaskCount(),
		Duration: time.Since(start),
	}, nil
}

// buildExecutor selects the execution backend from configuration.
func buildExecutor(cfg config.ExecutorConfig) (taskproc.Executor, func(context.Context), error) {
	switch cfg.Type {
	case "", "local":
		return executor.NewLocal(), nil, nil
	case "docker", "modal":
		if cfg.Image == "" {
			return nil, nil, fmt.Errorf("executor %q requires an image", cfg.Type)
		}
		var provider environment.Provider
		if cfg.Type == "docker" {
			provider = docker.NewProvider()
		} else {
			var err error
			provider, err = modal.NewProvider(modal.ParseProviderConfig(cfg.ProviderConfig))
			if err != nil {
				return nil, nil, err
			}
		}
		sandbox := executor.NewSandbox(provider, environment.CreateOptions{
			ImageRef: cfg.Image,
			CPUs:     cfg.CPUs,
			Memory:   cfg.Memory,
			Config:   cfg.ProviderConfig,
		})
		return sandbox, sandbox.Cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor type %q", cfg.Type)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
