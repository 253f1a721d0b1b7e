package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/weir-run/weir/internal/environment"
	"github.com/weir-run/weir/internal/models"
	"github.com/weir-run/weir/internal/taskproc"
)

const sandboxWorkDir = "/weir/work"

// Sandbox runs tasks inside isolated environments created by a provider.
//
// Each task gets a fresh environment: the staged working directory is
// copied in, the command runs against the image, and the full working
// directory is copied back so output collection sees the same layout the
// local executor produces.
type Sandbox struct {
	provider environment.Provider
	opts     environment.CreateOptions

	mu   sync.Mutex
	envs []environment.Environment
}

// NewSandbox creates a sandboxed executor backed by the given provider.
func NewSandbox(provider environment.Provider, opts environment.CreateOptions) *Sandbox {
	return &Sandbox{provider: provider, opts: opts}
}

// Execute stages the task into a new environment, runs its command and
// copies the results back into the local working directory.
func (e *Sandbox) Execute(ctx context.Context, task *models.TaskRun, cfg models.TaskConfig) error {
	script := "#!/bin/bash\nset -ue\n" + cfg.Command + "\n"
	scriptPath := filepath.Join(task.WorkDir, taskproc.CommandFile)
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return fmt.Errorf("writing command script: %w", err)
	}

	env, err := e.provider.Create(ctx, e.opts)
	if err != nil {
		return fmt.Errorf("creating environment: %w", err)
	}
	e.track(env)
	defer func() {
		env.Destroy(context.WithoutCancel(ctx))
		e.untrack(env)
	}()

	if err := env.CopyTo(ctx, task.WorkDir, sandboxWorkDir); err != nil {
		return fmt.Errorf("staging working directory: %w", err)
	}

	stdout, err := os.Create(filepath.Join(task.WorkDir, taskproc.StdoutFile))
	if err != nil {
		return fmt.Errorf("creating stdout capture: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(task.WorkDir, ".command.err"))
	if err != nil {
		return fmt.Errorf("creating stderr capture: %w", err)
	}
	defer stderr.Close()

	cmd := "bash " + taskproc.CommandFile
	exitCode, err := env.Exec(ctx, cmd, stdout, stderr, environment.ExecOptions{
		Env:     sandboxEnv(task),
		WorkDir: sandboxWorkDir,
	})
	if err != nil {
		return fmt.Errorf("running task command: %w", err)
	}

	if err := env.CopyFrom(ctx, sandboxWorkDir, task.WorkDir); err != nil {
		return fmt.Errorf("retrieving working directory: %w", err)
	}

	marker := strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(filepath.Join(task.WorkDir, taskproc.ExitFile), []byte(marker), 0644); err != nil {
		return fmt.Errorf("writing exit marker: %w", err)
	}
	return nil
}

// Cleanup destroys any environments still running, e.g. after an abort.
func (e *Sandbox) Cleanup(ctx context.Context) {
	e.mu.Lock()
	envs := make([]environment.Environment, len(e.envs))
	copy(envs, e.envs)
	e.mu.Unlock()
	for _, env := range envs {
		env.Destroy(ctx)
	}
}

func (e *Sandbox) track(env environment.Environment) {
	e.mu.Lock()
	e.envs = append(e.envs, env)
	e.mu.Unlock()
}

func (e *Sandbox) untrack(env environment.Environment) {
	e.mu.Lock()
	for i, candidate := range e.envs {
		if candidate == env {
			e.envs = append(e.envs[:i], e.envs[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

func sandboxEnv(task *models.TaskRun) map[string]string {
	staged := make(map[string][]string)
	for _, h := range task.Inputs {
		staged[h.Param] = append(staged[h.Param], h.StageName)
	}

	env := make(map[string]string, len(task.InputValues))
	for name, value := range task.InputValues {
		if names, ok := staged[name]; ok && len(names) > 0 {
			env[name] = strings.Join(names, " ")
			continue
		}
		env[name] = fmt.Sprintf("%v", value)
	}
	return env
}
