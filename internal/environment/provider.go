// Package environment abstracts sandboxed execution backends for task
// commands.
package environment

import (
	"context"
	"io"
	"time"
)

// Environment is a running sandbox a task command can execute in.
type Environment interface {
	// ID returns the unique identifier for this environment.
	ID() string

	// CopyTo copies a local file or directory into the environment.
	CopyTo(ctx context.Context, src, dst string) error

	// CopyFrom copies a file or directory from the environment to a local path.
	CopyFrom(ctx context.Context, src, dst string) error

	// Exec runs a shell command, streaming stdout and stderr to the writers.
	// Returns the exit code; a non-nil error means the command could not run
	// at all.
	Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts ExecOptions) (int, error)

	// Destroy removes the environment and all its resources.
	Destroy(ctx context.Context) error
}

// ExecOptions configures command execution.
type ExecOptions struct {
	Env     map[string]string
	Timeout time.Duration
	WorkDir string
}

// Provider is a factory for environments.
type Provider interface {
	// Name returns the provider name, e.g. "docker" or "modal".
	Name() string

	// Create starts a new environment from a registry image reference.
	Create(ctx context.Context, opts CreateOptions) (Environment, error)
}

// CreateOptions configures environment creation.
type CreateOptions struct {
	ImageRef string
	CPUs     string
	Memory   string
	Env      map[string]string
	Config   map[string]any
}
