// Package ledger persists the two on-disk records the module resolver keeps:
// the install manifest (a local cache index) and the lockfile (a committed
// reproducibility and integrity artifact). They live in separate files so the
// lockfile can be version-controlled without dragging local paths along.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const manifestFile = "modules.json"

// ErrCorruptManifest indicates an unparsable install manifest on disk.
var ErrCorruptManifest = errors.New("corrupt install manifest")

// InstalledModule records one module materialized on disk.
type InstalledModule struct {
	Source        string `json:"source"`   // provider:owner/repo
	Path          string `json:"path"`     // subpath within the repository
	Revision      string `json:"revision"` // pinned revision
	InstalledPath string `json:"installedPath"`
}

type manifest struct {
	Version int                        `json:"version"`
	Modules map[string]InstalledModule `json:"modules"`
}

// InstallLedger is the write-through install manifest. Every mutation rewrites
// the whole file, so a reader never observes a partially applied update.
type InstallLedger struct {
	path string

	mu      sync.Mutex
	modules map[string]InstalledModule
}

// OpenInstallLedger loads the manifest under root. A missing file yields an
// empty ledger; a malformed one fails with ErrCorruptManifest.
func OpenInstallLedger(root string) (*InstallLedger, error) {
	l := &InstallLedger{
		path:    filepath.Join(root, manifestFile),
		modules: make(map[string]InstalledModule),
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptManifest, l.path, err)
	}
	if m.Modules != nil {
		l.modules = m.Modules
	}
	return l, nil
}

// Get returns the record for name, if present.
func (l *InstallLedger) Get(name string) (InstalledModule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.modules[name]
	return rec, ok
}

// Put stores or overwrites a record and persists immediately.
func (l *InstallLedger) Put(name string, rec InstalledModule) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[name] = rec
	return l.persist()
}

// Remove drops a record and persists immediately. Removing an absent name is a
// no-op.
func (l *InstallLedger) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.modules, name)
	return l.persist()
}

// List returns installed module names in sorted order.
func (l *InstallLedger) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.modules))
	for name := range l.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// persist rewrites the manifest in full. Callers hold l.mu.
func (l *InstallLedger) persist() error {
	data, err := json.MarshalIndent(manifest{Version: 1, Modules: l.modules}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding install manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	if err := os.WriteFile(l.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing install manifest: %w", err)
	}
	return nil
}
