// Package repo materializes remote repository revisions on the local
// filesystem. The git CLI does the transport work; fetched checkouts are cached
// so modules sharing a repository reuse one clone.
package repo

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/weir-run/weir/internal/refspec"
)

// Fetcher materializes a repository revision and reports its local path.
type Fetcher interface {
	Fetch(ctx context.Context, ref *refspec.ModuleReference) (string, error)
}

// checkoutCacheSize bounds how many materialized checkouts are kept on disk at
// once. Eviction removes the checkout directory.
const checkoutCacheSize = 32

// GitFetcher fetches repositories with the git CLI into a per-process base
// directory.
type GitFetcher struct {
	baseDir string
	tokens  map[refspec.Provider]string

	// hostOverride, when set, replaces the provider-derived clone URL.
	// Used by tests to point fetches at a local repository.
	hostOverride string

	mu    sync.Mutex // serializes clone of the same key
	cache *lru.Cache[string, string]
}

// NewGitFetcher creates a fetcher whose clones live under os.TempDir().
// tokens optionally maps providers to access tokens for private repositories;
// it may be nil.
func NewGitFetcher(tokens map[refspec.Provider]string) (*GitFetcher, error) {
	baseDir := filepath.Join(os.TempDir(), fmt.Sprintf("weir-fetch-%d", time.Now().Unix()))
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating fetch directory: %w", err)
	}

	cache, err := lru.NewWithEvict[string, string](checkoutCacheSize, func(key, dir string) {
		slog.Debug("evicting cached checkout", "key", key, "path", dir)
		os.RemoveAll(dir)
	})
	if err != nil {
		return nil, fmt.Errorf("creating checkout cache: %w", err)
	}

	return &GitFetcher{baseDir: baseDir, tokens: tokens, cache: cache}, nil
}

// BaseDir returns the directory checkouts are materialized under.
func (f *GitFetcher) BaseDir() string {
	return f.baseDir
}

// Fetch clones the reference's repository at its revision and returns the
// checkout path. Repeated fetches of the same repository+revision reuse the
// cached checkout.
func (f *GitFetcher) Fetch(ctx context.Context, ref *refspec.ModuleReference) (string, error) {
	key := fmt.Sprintf("%s@%s", ref.Source(), ref.Revision)

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir, ok := f.cache.Get(key); ok {
		if _, err := os.Stat(dir); err == nil {
			slog.Debug("repository already fetched", "key", key, "path", dir)
			return dir, nil
		}
		f.cache.Remove(key)
	}

	dir := filepath.Join(f.baseDir, f.checkoutDirName(ref))
	if err := f.clone(ctx, ref, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	f.cache.Add(key, dir)
	return dir, nil
}

// clone runs a full clone then checks out the pinned revision. A full clone is
// needed because the revision may be an arbitrary commit hash.
func (f *GitFetcher) clone(ctx context.Context, ref *refspec.ModuleReference, dir string) error {
	url := f.cloneURL(ref)
	slog.Debug("cloning repository", "url", ref.RepositoryURL(), "revision", ref.Revision, "dest", dir)

	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s: %w: %s", ref.RepositoryURL(), err, out)
	}

	cmd = exec.CommandContext(ctx, "git", "checkout", "--quiet", ref.Revision)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s: %w: %s", ref.Revision, err, out)
	}
	return nil
}

// cloneURL injects the provider token into the clone URL when one is
// configured.
func (f *GitFetcher) cloneURL(ref *refspec.ModuleReference) string {
	if f.hostOverride != "" {
		return f.hostOverride
	}
	url := ref.RepositoryURL()
	token, ok := f.tokens[ref.Provider]
	if !ok || token == "" {
		return url
	}
	return "https://" + token + "@" + url[len("https://"):]
}

// checkoutDirName derives a filesystem-safe unique directory name from the
// repository URL and a truncated revision.
func (f *GitFetcher) checkoutDirName(ref *refspec.ModuleReference) string {
	h := sha256.Sum256([]byte(ref.RepositoryURL()))
	rev := ref.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return fmt.Sprintf("%s-%x-%s", ref.Repo, h[:8], rev)
}

// Cleanup removes the entire fetch base directory.
func (f *GitFetcher) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Purge()
	return os.RemoveAll(f.baseDir)
}
