// Package executor provides task execution backends for the processor core.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weir-run/weir/internal/models"
	"github.com/weir-run/weir/internal/taskproc"
)

// Local runs tasks as child processes in their working directories.
//
// The command script, stdout capture and exit marker are written into the
// working directory. A non-zero exit is not an error at this layer; the
// processor validates the recorded exit code against its configured set.
type Local struct{}

// NewLocal creates a local executor.
func NewLocal() *Local {
	return &Local{}
}

// Execute writes the command script, runs it and records the exit marker.
func (e *Local) Execute(ctx context.Context, task *models.TaskRun, cfg models.TaskConfig) error {
	script := "#!/bin/bash\nset -ue\n" + cfg.Command + "\n"
	scriptPath := filepath.Join(task.WorkDir, taskproc.CommandFile)
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return fmt.Errorf("writing command script: %w", err)
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

	cmd := exec.CommandContext(ctx, "bash", taskproc.CommandFile)
	cmd.Dir = task.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), taskEnv(task)...)

	exitCode := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return fmt.Errorf("running task command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	marker := strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(filepath.Join(task.WorkDir, taskproc.ExitFile), []byte(marker), 0644); err != nil {
		return fmt.Errorf("writing exit marker: %w", err)
	}
	return nil
}

// taskEnv exposes declared inputs to the command as environment variables:
// scalars render as text, staged files as their space-joined stage names.
func taskEnv(task *models.TaskRun) []string {
	staged := make(map[string][]string)
	for _, h := range task.Inputs {
		staged[h.Param] = append(staged[h.Param], h.StageName)
	}

	var env []string
	for name, value := range task.InputValues {
		if names, ok := staged[name]; ok && len(names) > 0 {
			env = append(env, fmt.Sprintf("%s=%s", name, strings.Join(names, " ")))
			continue
		}
		env = append(env, fmt.Sprintf("%s=%v", name, value))
	}
	return env
}
