package taskproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/weir-run/weir/internal/dataflow"
	"github.com/weir-run/weir/internal/models"
)

func newTestTask(t *testing.T) *models.TaskRun {
	t.Helper()
	return &models.TaskRun{
		Index:       1,
		Name:        "collect",
		WorkDir:     t.TempDir(),
		InputValues: map[string]any{},
	}
}

func writeWorkFile(t *testing.T, task *models.TaskRun, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(task.WorkDir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectStdoutOutput(t *testing.T) {
	task := newTestTask(t)
	writeWorkFile(t, task, StdoutFile, "hello\n")

	v, ok, err := collectOutput(task, models.OutParam{Kind: models.OutStdout, Name: "log"})
	if err != nil || !ok {
		t.Fatalf("collectOutput: ok=%v err=%v", ok, err)
	}
	if v != "hello\n" {
		t.Errorf("stdout = %q, want hello", v)
	}
}

func TestCollectStdoutMissingIsTaskError(t *testing.T) {
	task := newTestTask(t)

	_, _, err := collectOutput(task, models.OutParam{Kind: models.OutStdout, Name: "log"})
	var taskErr *models.TaskError
	if !errors.As(err, &taskErr) || taskErr.Type != models.ErrOutputMissing {
		t.Fatalf("expected output_missing TaskError, got %v", err)
	}
}

func TestCollectFileOutputSingleIsScalar(t *testing.T) {
	task := newTestTask(t)
	writeWorkFile(t, task, "result.bam", "x")

	v, ok, err := collectOutput(task, models.OutParam{Kind: models.OutFile, Name: "bam", Pattern: "*.bam"})
	if err != nil || !ok {
		t.Fatalf("collectOutput: ok=%v err=%v", ok, err)
	}
	path, isString := v.(string)
	if !isString {
		t.Fatalf("single match should be a scalar path, got %T", v)
	}
	if path != filepath.Join(task.WorkDir, "result.bam") {
		t.Errorf("path = %q", path)
	}
}

func TestCollectFileOutputMultipleIsSortedCollection(t *testing.T) {
	task := newTestTask(t)
	writeWorkFile(t, task, "b.txt", "")
	writeWorkFile(t, task, "a.txt", "")

	v, _, err := collectOutput(task, models.OutParam{Kind: models.OutFile, Name: "files", Pattern: "*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	coll, isColl := v.([]any)
	if !isColl || len(coll) != 2 {
		t.Fatalf("expected a 2-element collection, got %#v", v)
	}
	if filepath.Base(coll[0].(string)) != "a.txt" || filepath.Base(coll[1].(string)) != "b.txt" {
		t.Errorf("collection not sorted: %v", coll)
	}
}

func TestCollectFilesFiltersHiddenAndInputs(t *testing.T) {
	task := newTestTask(t)
	task.Inputs = []models.FileHolder{{Param: "in", StageName: "input.txt"}}
	writeWorkFile(t, task, "out1.txt", "")
	writeWorkFile(t, task, "out2.txt", "")
	writeWorkFile(t, task, ".hidden.txt", "")
	writeWorkFile(t, task, "input.txt", "")

	files, err := collectFiles(task, models.OutParam{Kind: models.OutFile, Name: "outs", Pattern: "*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected hidden and staged-input matches filtered, got %v", files)
	}

	files, err = collectFiles(task, models.OutParam{
		Kind: models.OutFile, Name: "outs", Pattern: "*.txt",
		IncludeHidden: true, IncludeInputs: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Fatalf("expected all matches kept, got %v", files)
	}
}

func TestCollectFilesSeparatorPreservesDeclarationOrder(t *testing.T) {
	task := newTestTask(t)
	writeWorkFile(t, task, "z.txt", "")
	writeWorkFile(t, task, "a.txt", "")

	files, err := collectFiles(task, models.OutParam{
		Kind: models.OutFile, Name: "pair",
		Pattern: "z.txt;a.txt", Separator: ";",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "z.txt" || filepath.Base(files[1]) != "a.txt" {
		t.Errorf("sub-pattern order not preserved: %v", files)
	}
}

func TestCollectFilesNoMatchIsTaskError(t *testing.T) {
	task := newTestTask(t)

	_, err := collectFiles(task, models.OutParam{Kind: models.OutFile, Name: "none", Pattern: "*.bam"})
	var taskErr *models.TaskError
	if !errors.As(err, &taskErr) || taskErr.Type != models.ErrOutputMissing {
		t.Fatalf("expected output_missing TaskError, got %v", err)
	}
}

func TestCollectValueOutput(t *testing.T) {
	task := newTestTask(t)
	task.InputValues["sample"] = "S1"

	v, ok, err := collectOutput(task, models.OutParam{Kind: models.OutValue, Name: "sample"})
	if err != nil || !ok || v != "S1" {
		t.Fatalf("value output: v=%v ok=%v err=%v", v, ok, err)
	}

	// A value output with no matching input is skipped, not fatal.
	_, ok, err = collectOutput(task, models.OutParam{Kind: models.OutValue, Name: "absent"})
	if err != nil || ok {
		t.Fatalf("absent value output: ok=%v err=%v", ok, err)
	}
}

func TestBindOutputsDeclarationOrderAndFanOut(t *testing.T) {
	task := newTestTask(t)
	task.Outputs = map[string]any{
		"files": []any{"/w/a", "/w/b"},
		"log":   "done\n",
	}
	cfg := models.TaskConfig{
		Name: "collect",
		Outputs: []models.OutParam{
			{Kind: models.OutFile, Name: "files", Pattern: "*"},
			{Kind: models.OutStdout, Name: "log"},
		},
	}

	filesCh := dataflow.NewQueue()
	logCh := dataflow.NewQueue()
	targets := map[string][]*Binding{
		"files": {{ch: filesCh}},
		"log":   {{ch: logCh}},
	}
	bindOutputs(context.Background(), task, cfg, targets)

	// Non-joint file collections fan out element by element.
	for _, want := range []string{"/w/a", "/w/b"} {
		v, ok := filesCh.Take(context.Background())
		if !ok || v != want {
			t.Fatalf("fan-out value = %v ok=%v, want %q", v, ok, want)
		}
	}
	if v, ok := logCh.Take(context.Background()); !ok || v != "done\n" {
		t.Fatalf("stdout binding = %v ok=%v", v, ok)
	}
}

func TestBindOutputsJointKeepsCollection(t *testing.T) {
	task := newTestTask(t)
	task.Outputs = map[string]any{"all": []any{"/w/a", "/w/b"}}
	cfg := models.TaskConfig{
		Name: "collect",
		Outputs: []models.OutParam{
			{Kind: models.OutFile, Name: "all", Pattern: "*", Joint: true},
		},
	}

	ch := dataflow.NewQueue()
	bindOutputs(context.Background(), task, cfg, map[string][]*Binding{"all": {{ch: ch}}})

	v, ok := ch.Take(context.Background())
	if !ok {
		t.Fatal("expected one value")
	}
	coll, isColl := v.([]any)
	if !isColl || len(coll) != 2 {
		t.Fatalf("joint output should stay a collection, got %#v", v)
	}
}
