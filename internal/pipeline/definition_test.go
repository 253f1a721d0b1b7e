package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPipeline = `
name: demo
processes:
  - name: split
    command: split $data
    inputs:
      - name: data
        value: payload
    outputs:
      - kind: file
        name: parts
        pattern: "*.part"
  - name: count
    command: wc -l $part
    inputs:
      - name: part
        from: split.parts
    outputs:
      - kind: stdout
        name: lines
`

func TestLoadValidPipeline(t *testing.T) {
	def, err := Load(writePipeline(t, validPipeline))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Name != "demo" || len(def.Processes) != 2 {
		t.Errorf("definition = %+v", def)
	}
	cfg := def.Processes[0].TaskConfig()
	if cfg.Name != "split" || len(cfg.Inputs) != 1 || cfg.Inputs[0].Name != "data" {
		t.Errorf("task config = %+v", cfg)
	}
}

func TestLoadRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			"no processes",
			"name: empty\n",
			"no processes",
		},
		{
			"duplicate names",
			"processes:\n  - {name: a, command: x}\n  - {name: a, command: y}\n",
			"duplicate process",
		},
		{
			"missing command",
			"processes:\n  - {name: a}\n",
			"no command",
		},
		{
			"unknown source process",
			"processes:\n  - name: a\n    command: x\n    inputs:\n      - {name: in, from: ghost.out}\n",
			"unknown process",
		},
		{
			"unknown source output",
			"processes:\n  - name: a\n    command: x\n    outputs:\n      - {kind: stdout, name: log}\n    inputs:\n      - {name: in, from: a.missing}\n",
			"unknown output",
		},
		{
			"ambiguous input source",
			"processes:\n  - name: a\n    command: x\n    inputs:\n      - {name: in, value: v, values: [1, 2]}\n",
			"exactly one",
		},
		{
			"include with both fields",
			"processes:\n  - {name: a, command: x}\nincludes:\n  - {path: ./x, module: \"github:o/r/m@v1\"}\n",
			"exactly one of path, module",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writePipeline(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

type fakeIncludeResolver struct {
	mu       sync.Mutex
	resolved []string
	dir      string
	err      error
}

func (f *fakeIncludeResolver) ResolveInclude(ctx context.Context, rawRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.resolved = append(f.resolved, rawRef)
	return f.dir, nil
}

func TestResolveIncludes(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		Dir: base,
		Includes: []Include{
			{Path: "./lib"},
			{Module: "github:nf-core/modules/mods/align@abc123"},
			{Module: "github:nf-core/modules/mods/sort@def456"},
		},
	}
	resolver := &fakeIncludeResolver{dir: filepath.Join(base, "modules", "x")}

	if err := def.ResolveIncludes(context.Background(), resolver); err != nil {
		t.Fatalf("ResolveIncludes: %v", err)
	}
	if def.Includes[0].Resolved != filepath.Join(base, "lib") {
		t.Errorf("local include resolved to %q", def.Includes[0].Resolved)
	}
	if len(resolver.resolved) != 2 {
		t.Errorf("resolver saw %v, want both remote references", resolver.resolved)
	}
	for _, inc := range def.Includes[1:] {
		if inc.Resolved != resolver.dir {
			t.Errorf("remote include not resolved: %+v", inc)
		}
	}
}

func TestResolveIncludesMissingLocalPath(t *testing.T) {
	def := &Definition{
		Dir:      t.TempDir(),
		Includes: []Include{{Path: "./nope"}},
	}
	if err := def.ResolveIncludes(context.Background(), &fakeIncludeResolver{}); err == nil {
		t.Fatal("expected error for missing local include")
	}
}

func TestResolveIncludesPropagatesResolverError(t *testing.T) {
	def := &Definition{
		Dir:      t.TempDir(),
		Includes: []Include{{Module: "github:o/r/mod@v1"}},
	}
	resolver := &fakeIncludeResolver{err: fmt.Errorf("tampered")}
	err := def.ResolveIncludes(context.Background(), resolver)
	if err == nil || !strings.Contains(err.Error(), "tampered") {
		t.Fatalf("error = %v, want resolver failure", err)
	}
}
