package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/weir-run/weir/internal/digest"
)

const lockfileName = "weir.lock"

// ErrCorruptLockfile indicates an unparsable lockfile on disk.
var ErrCorruptLockfile = errors.New("corrupt lockfile")

// LockEntry is the cryptographic record for one installed module. Entries are
// immutable in content; a re-lock overwrites the entry wholesale.
type LockEntry struct {
	Source    string            `json:"source"`
	Path      string            `json:"path"`
	Revision  string            `json:"revision"`
	Integrity string            `json:"integrity"` // digest over the installed directory
	Timestamp string            `json:"timestamp"`
	Files     map[string]string `json:"files"` // relative path -> per-file digest
}

type lockfile struct {
	Version   int                  `json:"version"`
	Generated string               `json:"generated"`
	Modules   map[string]LockEntry `json:"modules"`
}

// LockLedger persists per-module integrity records. Same write-through
// discipline as the install manifest, separate file.
type LockLedger struct {
	path string

	mu      sync.Mutex
	entries map[string]LockEntry
}

// OpenLockLedger loads the lockfile under root. A missing file yields an empty
// ledger; a malformed one fails with ErrCorruptLockfile.
func OpenLockLedger(root string) (*LockLedger, error) {
	l := &LockLedger{
		path:    filepath.Join(root, lockfileName),
		entries: make(map[string]LockEntry),
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}

	var lf lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptLockfile, l.path, err)
	}
	if lf.Modules != nil {
		l.entries = lf.Modules
	}
	return l, nil
}

// AddEntry computes the directory and per-file digests over installedDir,
// stores the entry under name and persists. An existing entry is overwritten.
func (l *LockLedger) AddEntry(name, source, path, revision, installedDir string) error {
	integrity, err := digest.Directory(installedDir)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", installedDir, err)
	}
	files, err := digest.DirectoryFiles(installedDir)
	if err != nil {
		return fmt.Errorf("hashing files of %s: %w", installedDir, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = LockEntry{
		Source:    source,
		Path:      path,
		Revision:  revision,
		Integrity: integrity,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Files:     files,
	}
	return l.persist()
}

// VerifyIntegrity reports whether installedDir still matches the locked
// digest for name. It is a pure query: absent entry, absent directory and
// mismatching content all yield false, never an error. Enforcement policy
// belongs to the caller.
func (l *LockLedger) VerifyIntegrity(name, installedDir string) bool {
	l.mu.Lock()
	entry, ok := l.entries[name]
	l.mu.Unlock()
	if !ok {
		return false
	}

	if info, err := os.Stat(installedDir); err != nil || !info.IsDir() {
		return false
	}

	current, err := digest.Directory(installedDir)
	if err != nil {
		slog.Debug("integrity recomputation failed", "module", name, "error", err)
		return false
	}
	return current == entry.Integrity
}

// HasEntry reports whether an entry exists for name.
func (l *LockLedger) HasEntry(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[name]
	return ok
}

// GetEntry returns the entry for name, if present.
func (l *LockLedger) GetEntry(name string) (LockEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[name]
	return entry, ok
}

// RemoveEntry drops the entry for name and persists.
func (l *LockLedger) RemoveEntry(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, name)
	return l.persist()
}

// AllEntries returns entry names in sorted order.
func (l *LockLedger) AllEntries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// persist rewrites the lockfile in full. Callers hold l.mu.
func (l *LockLedger) persist() error {
	lf := lockfile{
		Version:   1,
		Generated: time.Now().UTC().Format(time.RFC3339),
		Modules:   l.entries,
	}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lockfile directory: %w", err)
	}
	if err := os.WriteFile(l.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}
	return nil
}
