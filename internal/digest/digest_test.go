package digest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/weir-run/weir/internal/digest"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")

	d, err := digest.File(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if d != want {
		t.Errorf("digest = %s, want %s", d, want)
	}
}

func TestDirectoryLocationIndependent(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	for _, dir := range []string{a, b} {
		writeFile(t, dir, "file1.txt", "content1")
		writeFile(t, dir, "sub/file2.txt", "content2")
		writeFile(t, dir, "sub/deep/file3.txt", "content3")
	}

	da, err := digest.Directory(a)
	if err != nil {
		t.Fatalf("Directory(a) failed: %v", err)
	}
	db, err := digest.Directory(b)
	if err != nil {
		t.Fatalf("Directory(b) failed: %v", err)
	}
	if da != db {
		t.Errorf("identical trees hashed differently: %s vs %s", da, db)
	}
}

func TestDirectoryContentSensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file1.txt", "content1")
	writeFile(t, dir, "file2.txt", "content2")

	before, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}

	// Single byte change
	writeFile(t, dir, "file1.txt", "content!")
	after, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}
	if before == after {
		t.Error("digest unchanged after content mutation")
	}

	// File addition
	writeFile(t, dir, "file3.txt", "content3")
	added, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}
	if added == after {
		t.Error("digest unchanged after file addition")
	}

	// File removal
	if err := os.Remove(filepath.Join(dir, "file3.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	removed, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}
	if removed != after {
		t.Error("digest should return to pre-addition value after removal")
	}
}

func TestDirectoryBoundaryUnambiguous(t *testing.T) {
	// Shifting bytes between a filename and its content must change the
	// digest; both trees concatenate to the same byte stream without field
	// framing.
	a := t.TempDir()
	writeFile(t, a, "ab", "c")
	b := t.TempDir()
	writeFile(t, b, "a", "bc")

	da, err := digest.Directory(a)
	if err != nil {
		t.Fatalf("Directory(a) failed: %v", err)
	}
	db, err := digest.Directory(b)
	if err != nil {
		t.Fatalf("Directory(b) failed: %v", err)
	}
	if da == db {
		t.Errorf("distinct trees hashed identically: %s", da)
	}
}

func TestDirectoryRenameSensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "same")

	before, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}
	if err := os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	after, err := digest.Directory(dir)
	if err != nil {
		t.Fatalf("Directory failed: %v", err)
	}
	if before == after {
		t.Error("digest unchanged after rename; relative paths must be part of the hash")
	}
}

func TestDirectoryFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file1.txt", "content1")
	writeFile(t, dir, "sub/file2.txt", "content2")

	files, err := digest.DirectoryFiles(dir)
	if err != nil {
		t.Fatalf("DirectoryFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(files))
	}
	if _, ok := files["sub/file2.txt"]; !ok {
		t.Errorf("expected slash-normalized key sub/file2.txt, got %v", files)
	}

	single, err := digest.File(filepath.Join(dir, "file1.txt"))
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if files["file1.txt"] != single {
		t.Errorf("per-file digest mismatch: %s vs %s", files["file1.txt"], single)
	}
}
