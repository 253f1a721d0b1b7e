// Package docker runs task environments as containers via the docker CLI.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/weir-run/weir/internal/environment"
)

// Provider implements the docker environment provider.
type Provider struct{}

// NewProvider creates a docker provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "docker"
}

// Create starts a container from the image and keeps it alive for exec calls.
func (p *Provider) Create(ctx context.Context, opts environment.CreateOptions) (environment.Environment, error) {
	containerID := fmt.Sprintf("weir-%d", time.Now().UnixNano())

	args := []string{"run", "-d", "--name", containerID}
	if opts.CPUs != "" {
		args = append(args, "--cpus", opts.CPUs)
	}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, opts.ImageRef, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("creating docker container: %w: %s", err, stderr.String())
	}

	return &dockerEnvironment{containerID: containerID}, nil
}

type dockerEnvironment struct {
	containerID string
}

func (e *dockerEnvironment) ID() string {
	return e.containerID
}

// CopyTo copies a local file or directory into the container.
func (e *dockerEnvironment) CopyTo(ctx context.Context, src, dst string) error {
	dstDir := filepath.Dir(dst)
	if dstDir != "/" && dstDir != "." {
		mkdir := exec.CommandContext(ctx, "docker", "exec", e.containerID, "mkdir", "-p", dstDir)
		if err := mkdir.Run(); err != nil {
			return fmt.Errorf("creating directory %s: %w", dstDir, err)
		}
	}

	cmd := exec.CommandContext(ctx, "docker", "cp", src, fmt.Sprintf("%s:%s", e.containerID, dst))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("copying to container: %w: %s", err, stderr.String())
	}
	return nil
}

// CopyFrom copies a file or directory from the container to a local path.
func (e *dockerEnvironment) CopyFrom(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating local directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "docker", "cp", fmt.Sprintf("%s:%s", e.containerID, src), dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("copying from container: %w: %s", err, stderr.String())
	}
	return nil
}

// Exec runs a shell command in the container.
func (e *dockerEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"exec"}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	args = append(args, e.containerID, "bash", "-c", cmd)

	execCmd := exec.CommandContext(ctx, "docker", args...)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	if err := execCmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			return -1, fmt.Errorf("command timed out")
		}
		return -1, fmt.Errorf("executing command: %w", err)
	}
	return 0, nil
}

// Destroy force-removes the container.
func (e *dockerEnvironment) Destroy(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", e.containerID)
	if err := cmd.Run(); err != nil {
		if !strings.Contains(err.Error(), "No such container") {
			return fmt.Errorf("removing container: %w", err)
		}
	}
	return nil
}
