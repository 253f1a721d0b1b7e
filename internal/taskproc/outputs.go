package taskproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/weir-run/weir/internal/models"
)

// collectOutputs resolves every declared output of a completed task and
// stores the results on the run record, keyed by parameter name. Used both
// after a fresh execution and when probing a candidate cache directory.
func collectOutputs(task *models.TaskRun, cfg models.TaskConfig) error {
	task.Outputs = make(map[string]any, len(cfg.Outputs))
	for _, param := range cfg.Outputs {
		value, ok, err := collectOutput(task, param)
		if err != nil {
			return err
		}
		if ok {
			task.Outputs[param.Name] = value
		}
	}
	return nil
}

// collectOutput resolves a single output parameter. ok is false when a value
// output had no matching input, which is a warning rather than an error.
func collectOutput(task *models.TaskRun, param models.OutParam) (value any, ok bool, err error) {
	switch param.Kind {
	case models.OutStdout:
		data, err := os.ReadFile(filepath.Join(task.WorkDir, StdoutFile))
		if err != nil {
			return nil, false, &models.TaskError{
				Type:    models.ErrOutputMissing,
				Message: fmt.Sprintf("stdout capture missing for output %s", param.Name),
				Task:    task.DisplayName(),
				WorkDir: task.WorkDir,
			}
		}
		return string(data), true, nil

	case models.OutFile:
		files, err := collectFiles(task, param)
		if err != nil {
			return nil, false, err
		}
		if len(files) == 1 {
			return files[0], true, nil
		}
		out := make([]any, len(files))
		for i, f := range files {
			out[i] = f
		}
		return out, true, nil

	case models.OutValue:
		// An output can only return a value that an input of the same name
		// declared. Absence is non-fatal.
		if v, found := task.InputValues[param.Name]; found {
			return v, true, nil
		}
		slog.Warn("value output has no matching input, skipping",
			"task", task.DisplayName(), "output", param.Name)
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("unknown output kind %q for %s", param.Kind, param.Name)
	}
}

// collectFiles expands a file output's glob pattern(s) against the working
// directory. A separator character splits the name into sub-patterns
// collected independently and concatenated in order; matches within one
// sub-pattern are sorted so collection order never depends on filesystem
// enumeration.
func collectFiles(task *models.TaskRun, param models.OutParam) ([]string, error) {
	patterns := []string{param.Pattern}
	if param.Separator != "" {
		patterns = strings.Split(param.Pattern, param.Separator)
	}

	var all []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(os.DirFS(task.WorkDir), pattern)
		if err != nil {
			return nil, fmt.Errorf("output %s: bad pattern %q: %w", param.Name, pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if info, err := os.Stat(filepath.Join(task.WorkDir, m)); err != nil || info.IsDir() {
				continue
			}
			all = append(all, m)
		}
	}

	if len(all) > 1 {
		all = filterCollected(task, param, all)
	}
	if len(all) == 0 {
		return nil, &models.TaskError{
			Type:    models.ErrOutputMissing,
			Message: fmt.Sprintf("no file matches declared output %s (pattern %q)", param.Name, param.Pattern),
			Task:    task.DisplayName(),
			WorkDir: task.WorkDir,
		}
	}

	paths := make([]string, len(all))
	for i, m := range all {
		paths[i] = filepath.Join(task.WorkDir, m)
	}
	return paths, nil
}

// filterCollected applies the two collection filters: dotfiles are dropped
// unless the param opts into hidden files, and matches named like one of the
// task's own staged inputs are dropped unless the param opts into inputs.
func filterCollected(task *models.TaskRun, param models.OutParam, matches []string) []string {
	staged := make(map[string]bool, len(task.Inputs))
	for _, h := range task.Inputs {
		staged[filepath.Base(h.StageName)] = true
	}

	kept := matches[:0]
	for _, m := range matches {
		base := filepath.Base(m)
		if !param.IncludeHidden && strings.HasPrefix(base, ".") {
			continue
		}
		if !param.IncludeInputs && staged[base] {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// bindOutputs emits collected outputs onto downstream channels strictly in
// the declaration order of the output parameter list. A non-joint file output
// whose value is a collection fans out element by element; everything else is
// bound as a single value. Downstream consumers correlate channel position
// with declaration position, so this ordering is load-bearing.
//
// Sends select on ctx: when the run aborts while a consumer has stopped
// draining, the producer gives up rather than blocking forever.
func bindOutputs(ctx context.Context, task *models.TaskRun, cfg models.TaskConfig, targets map[string][]*Binding) {
	for _, param := range cfg.Outputs {
		value, ok := task.Outputs[param.Name]
		if !ok {
			continue
		}

		for _, b := range targets[param.Name] {
			if param.Kind == models.OutFile && !param.Joint {
				if coll, isColl := value.([]any); isColl {
					for _, item := range coll {
						if !b.ch.Emit(ctx, item) {
							return
						}
					}
					continue
				}
			}
			if !b.ch.Emit(ctx, value) {
				return
			}
		}
	}
}
