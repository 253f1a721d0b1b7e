// Package refspec parses compact remote-module references of the form
// [provider:]owner/repo/path...@revision.
package refspec

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies a hosting service for module repositories.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

var (
	// ErrInvalidFormat indicates a reference that does not match the
	// [provider:]owner/repo/path@revision grammar.
	ErrInvalidFormat = errors.New("invalid module reference format")

	// ErrUnsupportedProvider indicates a provider prefix outside the known set.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// hostTemplates maps providers to their repository URL templates.
var hostTemplates = map[Provider]string{
	ProviderGitHub:    "https://github.com/%s/%s.git",
	ProviderGitLab:    "https://gitlab.com/%s/%s.git",
	ProviderBitbucket: "https://bitbucket.org/%s/%s.git",
}

// ModuleReference is a parsed remote module coordinate. Values are immutable
// once parsed.
type ModuleReference struct {
	Provider Provider
	Owner    string
	Repo     string
	Path     string // slash-joined subpath within the repository
	Revision string // commit hash, tag or branch; opaque
	Name     string // last path segment
}

// Parse parses a module reference string.
//
// The revision suffix (after @) is mandatory. The path-spec, after removing an
// optional provider: prefix, must have at least three slash-delimited segments:
// owner, repository and at least one subpath segment. The module name is the
// final subpath segment, not the repository name, so one repository can host
// multiple independently versioned modules.
func Parse(ref string) (*ModuleReference, error) {
	parts := strings.Split(ref, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q must contain exactly one @revision suffix", ErrInvalidFormat, ref)
	}
	pathSpec, revision := parts[0], parts[1]

	provider := ProviderGitHub
	if idx := strings.Index(pathSpec, ":"); idx >= 0 {
		provider = Provider(pathSpec[:idx])
		pathSpec = pathSpec[idx+1:]
	}
	if _, ok := hostTemplates[provider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}

	segments := strings.Split(pathSpec, "/")
	if len(segments) < 3 {
		return nil, fmt.Errorf("%w: %q needs owner/repo/path", ErrInvalidFormat, ref)
	}
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("%w: %q contains an empty path segment", ErrInvalidFormat, ref)
		}
	}

	subpath := strings.Join(segments[2:], "/")
	return &ModuleReference{
		Provider: provider,
		Owner:    segments[0],
		Repo:     segments[1],
		Path:     subpath,
		Revision: revision,
		Name:     segments[len(segments)-1],
	}, nil
}

// String renders the reference back into its compact form. Parse(r.String())
// yields an identical reference.
func (r *ModuleReference) String() string {
	return fmt.Sprintf("%s:%s/%s/%s@%s", r.Provider, r.Owner, r.Repo, r.Path, r.Revision)
}

// Source returns the provider-qualified repository coordinate, e.g.
// "github:nf-core/modules".
func (r *ModuleReference) Source() string {
	return fmt.Sprintf("%s:%s/%s", r.Provider, r.Owner, r.Repo)
}

// RepositoryURL returns the clone URL for the reference's repository.
func (r *ModuleReference) RepositoryURL() string {
	return fmt.Sprintf(hostTemplates[r.Provider], r.Owner, r.Repo)
}

// IsReference reports whether s looks like a remote module reference rather
// than a local path. Local paths never carry an @revision suffix.
func IsReference(s string) bool {
	return strings.Count(s, "@") == 1 && !strings.HasPrefix(s, "/") && !strings.HasPrefix(s, ".")
}
