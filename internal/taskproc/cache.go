package taskproc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weir-run/weir/internal/models"
)

// probeCache decides whether dir holds a completed, reusable execution of the
// task. A hit requires all of: the directory exists, the exit marker exists
// and is non-empty, the recorded exit code is in the valid set, and every
// declared output collects successfully from the directory. Any one failing
// means re-run.
//
// On a hit the task record is populated exactly as a fresh run would have
// populated it, with outputs collected and the exit code set.
func (r *Run) probeCache(task *models.TaskRun, cfg models.TaskConfig, dir string) bool {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return false
	}

	code, err := readExitCode(dir)
	if err != nil {
		slog.Debug("cache miss: exit marker unusable", "task", task.DisplayName(), "dir", dir, "error", err)
		return false
	}
	if !r.ValidExitCodes[code] {
		slog.Debug("cache miss: exit code not valid", "task", task.DisplayName(), "code", code)
		return false
	}

	probe := *task
	probe.WorkDir = dir
	if err := collectOutputs(&probe, cfg); err != nil {
		slog.Debug("cache miss: outputs not collectable", "task", task.DisplayName(), "error", err)
		return false
	}

	task.WorkDir = dir
	task.ExitCode = code
	task.Outputs = probe.Outputs
	task.Stdout = filepath.Join(dir, StdoutFile)
	return true
}

// readExitCode parses the exit marker file: a plain-text file holding one
// integer. An empty marker means the task never finished writing it.
func readExitCode(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, ExitFile))
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, fmt.Errorf("empty exit marker")
	}
	code, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("malformed exit marker %q", text)
	}
	return code, nil
}

// replayStdout echoes a cached task's captured stdout to the console.
func replayStdout(task *models.TaskRun) {
	data, err := os.ReadFile(task.Stdout)
	if err != nil {
		slog.Debug("no stdout capture to replay", "task", task.DisplayName())
		return
	}
	os.Stdout.Write(data)
}
