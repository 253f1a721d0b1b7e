// Package modules installs, updates and verifies remote pipeline modules.
package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/weir-run/weir/internal/config"
	"github.com/weir-run/weir/internal/ledger"
	"github.com/weir-run/weir/internal/refspec"
	"github.com/weir-run/weir/internal/repo"
)

var (
	// ErrNotInstalled indicates an operation on a module name the install
	// manifest does not know.
	ErrNotInstalled = errors.New("module not installed")

	// ErrModuleFileNotFound indicates a fetched repository tree without the
	// module's entry file at the declared subpath.
	ErrModuleFileNotFound = errors.New("module file not found")

	// ErrInstallFailed wraps transport or checkout failures during install.
	ErrInstallFailed = errors.New("module install failed")

	// ErrIntegrity is the fatal strict-mode integrity failure.
	ErrIntegrity = errors.New("module integrity verification failed")
)

// Resolver orchestrates fetch, installation and ledger updates for remote
// modules.
type Resolver struct {
	fetcher     repo.Fetcher
	manifest    *ledger.InstallLedger
	lock        *ledger.LockLedger
	modulesRoot string
	security    config.SecurityMode

	// ForceReinstall makes every include resolution re-fetch and reinstall
	// even when the manifest already records the wanted revision.
	ForceReinstall bool

	warnOnce sync.Once // unrecognized security mode is reported once
	rawMode  string
}

// NewResolver creates a resolver rooted at projectRoot. The modules tree,
// install manifest and lockfile all live under projectRoot.
func NewResolver(projectRoot string, fetcher repo.Fetcher, securityMode string) (*Resolver, error) {
	manifest, err := ledger.OpenInstallLedger(projectRoot)
	if err != nil {
		return nil, err
	}
	lock, err := ledger.OpenLockLedger(projectRoot)
	if err != nil {
		return nil, err
	}

	mode, _ := config.ParseSecurityMode(securityMode)
	return &Resolver{
		fetcher:     fetcher,
		manifest:    manifest,
		lock:        lock,
		modulesRoot: filepath.Join(projectRoot, "modules"),
		security:    mode,
		rawMode:     securityMode,
	}, nil
}

// Install resolves a module reference, materializes the module under the
// modules root and records it in the install manifest.
//
// When force is false and the module is already installed at the same
// revision, the existing record is returned untouched. No partial manifest
// state is ever written: a fetch or copy failure leaves the ledger as it was.
func (r *Resolver) Install(ctx context.Context, rawRef string, force bool) (*ledger.InstalledModule, error) {
	ref, err := refspec.Parse(rawRef)
	if err != nil {
		return nil, err
	}

	if !force {
		if existing, ok := r.manifest.Get(ref.Name); ok && existing.Revision == ref.Revision {
			slog.Debug("module already installed", "module", ref.Name, "revision", ref.Revision)
			return &existing, nil
		}
	}

	checkout, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstallFailed, ref.String(), err)
	}

	srcDir := filepath.Join(checkout, filepath.FromSlash(ref.Path))
	meta, err := LoadMetadata(srcDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstallFailed, ref.String(), err)
	}
	if _, err := os.Stat(filepath.Join(srcDir, meta.Entry)); err != nil {
		return nil, fmt.Errorf("%w: %s missing %s", ErrModuleFileNotFound, ref.String(), meta.Entry)
	}

	// Copy rather than move or link so the fetch cache stays reusable for
	// other modules hosted in the same repository.
	installDir := filepath.Join(r.modulesRoot, ref.Owner, ref.Repo, filepath.FromSlash(ref.Path))
	if err := os.RemoveAll(installDir); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %v", ErrInstallFailed, installDir, err)
	}
	if err := copyTree(srcDir, installDir); err != nil {
		os.RemoveAll(installDir)
		return nil, fmt.Errorf("%w: %s: %v", ErrInstallFailed, ref.String(), err)
	}

	rec := ledger.InstalledModule{
		Source:        ref.Source(),
		Path:          ref.Path,
		Revision:      ref.Revision,
		InstalledPath: installDir,
	}
	if err := r.manifest.Put(ref.Name, rec); err != nil {
		return nil, err
	}

	slog.Info("module installed", "module", ref.Name, "revision", ref.Revision, "path", installDir)
	return &rec, nil
}

// Update re-resolves an installed module. With an empty newRevision the module
// is re-fetched at its pinned revision, refreshing content without changing
// version. Update always forces the install and refreshes an existing lock
// entry, since the on-disk content legitimately changed.
func (r *Resolver) Update(ctx context.Context, name, newRevision string) (*ledger.InstalledModule, error) {
	existing, ok := r.manifest.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	revision := newRevision
	if revision == "" {
		revision = existing.Revision
	}
	rawRef := fmt.Sprintf("%s/%s@%s", existing.Source, existing.Path, revision)

	rec, err := r.Install(ctx, rawRef, true)
	if err != nil {
		return nil, err
	}

	if r.lock.HasEntry(name) {
		if err := r.lock.AddEntry(name, rec.Source, rec.Path, rec.Revision, rec.InstalledPath); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Remove deletes the installed directory tree and the manifest entry. The lock
// entry is left in place; it is the committed record of what this project
// expects and removing the local copy does not change that.
func (r *Resolver) Remove(name string) error {
	rec, ok := r.manifest.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if err := os.RemoveAll(rec.InstalledPath); err != nil {
		return fmt.Errorf("removing %s: %w", rec.InstalledPath, err)
	}
	return r.manifest.Remove(name)
}

// List returns installed module names in sorted order.
func (r *Resolver) List() []string {
	return r.manifest.List()
}

// Info returns the install record for name.
func (r *Resolver) Info(name string) (*ledger.InstalledModule, error) {
	rec, ok := r.manifest.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	return &rec, nil
}

// Lock returns the resolver's lock ledger.
func (r *Resolver) Lock() *ledger.LockLedger {
	return r.lock
}

// ResolveInclude resolves a remote module reference for use by a pipeline
// include, gated by integrity verification. It returns the installed module
// directory.
//
// A module without a lock entry is a first use: its entry is computed and
// stored. A module whose content no longer matches its lock entry is handled
// per the configured security mode: strict aborts, warn logs and continues,
// permissive continues silently.
func (r *Resolver) ResolveInclude(ctx context.Context, rawRef string) (string, error) {
	ref, err := refspec.Parse(rawRef)
	if err != nil {
		return "", err
	}

	rec, ok := r.manifest.Get(ref.Name)
	if !ok || rec.Revision != ref.Revision || r.ForceReinstall {
		installed, err := r.Install(ctx, rawRef, ok)
		if err != nil {
			return "", err
		}
		rec = *installed
	}

	if !r.lock.HasEntry(ref.Name) {
		slog.Debug("locking module on first use", "module", ref.Name)
		if err := r.lock.AddEntry(ref.Name, rec.Source, rec.Path, rec.Revision, rec.InstalledPath); err != nil {
			return "", err
		}
		return rec.InstalledPath, nil
	}

	if r.lock.VerifyIntegrity(ref.Name, rec.InstalledPath) {
		return rec.InstalledPath, nil
	}

	switch r.securityMode() {
	case config.SecurityWarn:
		slog.Warn("module content does not match lockfile, continuing unverified",
			"module", ref.Name, "path", rec.InstalledPath)
		return rec.InstalledPath, nil
	case config.SecurityPermissive:
		return rec.InstalledPath, nil
	default:
		return "", fmt.Errorf("%w: %s at %s does not match its lock entry; "+
			"run update to re-lock or inspect the directory for tampering",
			ErrIntegrity, ref.Name, rec.InstalledPath)
	}
}

// securityMode returns the effective mode, warning once when the configured
// string was unrecognized.
func (r *Resolver) securityMode() config.SecurityMode {
	if _, ok := config.ParseSecurityMode(r.rawMode); !ok {
		r.warnOnce.Do(func() {
			slog.Warn("unrecognized security mode, falling back to strict", "mode", r.rawMode)
		})
	}
	return r.security
}

// copyTree copies a directory tree, preserving file modes for regular files.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
