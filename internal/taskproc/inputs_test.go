package taskproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/weir-run/weir/internal/models"
)

func TestNormalizeInputPersistsScalar(t *testing.T) {
	stageDir := filepath.Join(t.TempDir(), "stage")

	holders, err := normalizeInput(stageDir, models.InParam{Name: "count"}, 42)
	if err != nil {
		t.Fatalf("normalizeInput: %v", err)
	}
	if len(holders) != 1 {
		t.Fatalf("expected 1 holder, got %d", len(holders))
	}

	data, err := os.ReadFile(holders[0].StorePath)
	if err != nil {
		t.Fatalf("reading persisted value: %v", err)
	}
	if string(data) != "42" {
		t.Errorf("persisted %q, want %q", data, "42")
	}
	if holders[0].Param != "count" {
		t.Errorf("Param = %q, want count", holders[0].Param)
	}
	if holders[0].StageName != filepath.Base(holders[0].StorePath) {
		t.Errorf("StageName = %q, want base of store path", holders[0].StageName)
	}
}

func TestNormalizeInputReferencesExistingFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "reads.fq")
	if err := os.WriteFile(src, []byte("ACGT"), 0644); err != nil {
		t.Fatal(err)
	}

	holders, err := normalizeInput(filepath.Join(dir, "stage"), models.InParam{Name: "reads"}, src)
	if err != nil {
		t.Fatalf("normalizeInput: %v", err)
	}
	if holders[0].StorePath != src {
		t.Errorf("StorePath = %q, want the original file %q", holders[0].StorePath, src)
	}
	if holders[0].StageName != "reads.fq" {
		t.Errorf("StageName = %q, want reads.fq", holders[0].StageName)
	}
}

func TestNormalizeInputCollection(t *testing.T) {
	stageDir := filepath.Join(t.TempDir(), "stage")

	holders, err := normalizeInput(stageDir, models.InParam{Name: "xs"}, []any{"a", "b", "c"})
	if err != nil {
		t.Fatalf("normalizeInput: %v", err)
	}
	if len(holders) != 3 {
		t.Fatalf("expected 3 holders, got %d", len(holders))
	}
	for i, want := range []string{"a", "b", "c"} {
		data, err := os.ReadFile(holders[i].StorePath)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("holder %d holds %q, want %q", i, data, want)
		}
	}
}

func TestExpandStageNames(t *testing.T) {
	holders := func(names ...string) []models.FileHolder {
		hs := make([]models.FileHolder, len(names))
		for i, n := range names {
			hs[i] = models.FileHolder{StorePath: filepath.Join("/store", n)}
		}
		return hs
	}

	tests := []struct {
		name    string
		pattern string
		holders []models.FileHolder
		want    []string
		wantErr bool
	}{
		{"empty keeps base names", "", holders("a.txt", "b.txt"), []string{"a.txt", "b.txt"}, false},
		{"bare star single keeps name", "*", holders("reads.fq"), []string{"reads.fq"}, false},
		{"bare star many numbers", "*", holders("a", "b", "c"), []string{"1", "2", "3"}, false},
		{"star in pattern", "chunk_*.dat", holders("a", "b"), []string{"chunk_1.dat", "chunk_2.dat"}, false},
		{"query run zero pads", "s???.txt", holders("a", "b"), []string{"s001.txt", "s002.txt"}, false},
		{"single query", "read_?.fq", holders("a", "b"), []string{"read_1.fq", "read_2.fq"}, false},
		{"first longest query run wins", "a?b???c", holders("x"), []string{"a?b001c"}, false},
		{"query overflow", "x?", holders("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"), nil, true},
		{"literal single", "renamed.txt", holders("orig.txt"), []string{"renamed.txt"}, false},
		{"literal many fans out", "part", holders("a", "b"), []string{"part1", "part2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandStageNames(tt.pattern, tt.holders)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expandStageNames: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("name %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStageFilesCopiesUnderStageNames(t *testing.T) {
	src := t.TempDir()
	work := t.TempDir()

	path := filepath.Join(src, "data.bin")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	holders := []models.FileHolder{{StorePath: path, StageName: "staged/input.bin"}}
	if err := stageFiles(work, holders); err != nil {
		t.Fatalf("stageFiles: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(work, "staged", "input.bin"))
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("staged content %q, want payload", data)
	}
}
