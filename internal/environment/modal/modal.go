// Package modal runs task environments as Modal sandboxes.
package modal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modal-labs/libmodal/modal-go"

	"github.com/weir-run/weir/internal/environment"
	"github.com/weir-run/weir/internal/util"
)

// ProviderConfig holds Modal-specific configuration.
type ProviderConfig struct {
	// AppName is the Modal app to use. If empty, a unique name is generated.
	AppName string
	// Regions restricts sandbox placement, e.g. "us-east".
	Regions []string
	// Verbose enables detailed sandbox logging.
	Verbose bool
}

// ParseProviderConfig extracts Modal settings from the generic config map.
func ParseProviderConfig(config map[string]any) ProviderConfig {
	pc := ProviderConfig{}
	if config == nil {
		return pc
	}
	if v, ok := config["app_name"].(string); ok {
		pc.AppName = v
	}
	if v, ok := config["region"].(string); ok {
		pc.Regions = []string{v}
	}
	if v, ok := config["regions"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				pc.Regions = append(pc.Regions, s)
			}
		}
	}
	if v, ok := config["verbose"].(bool); ok {
		pc.Verbose = v
	}
	return pc
}

// Provider implements the Modal environment provider using Modal sandboxes.
type Provider struct {
	client *modal.Client
	config ProviderConfig
}

// NewProvider creates a Modal provider.
func NewProvider(config ProviderConfig) (*Provider, error) {
	slog.Debug("initializing modal client")
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Provider{client: client, config: config}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "modal"
}

// Create starts a Modal sandbox from a registry image.
func (p *Provider) Create(ctx context.Context, opts environment.CreateOptions) (environment.Environment, error) {
	appName := p.config.AppName
	if appName == "" {
		appName = fmt.Sprintf("weir-%d", time.Now().UnixNano())
	}

	app, err := p.client.Apps.FromName(ctx, appName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal app: %w", err)
	}

	image := p.client.Images.FromRegistry(opts.ImageRef, nil)

	cpus, err := util.ParseCPUs(opts.CPUs)
	if err != nil {
		return nil, err
	}
	memoryMiB := 2048
	if opts.Memory != "" {
		memoryMiB, err = util.ParseMemory(opts.Memory)
		if err != nil {
			return nil, err
		}
	}

	envVars := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		envVars[k] = v
	}

	slog.Debug("creating modal sandbox",
		"app", appName, "image", opts.ImageRef,
		"cpus", cpus, "memory_mib", memoryMiB, "regions", p.config.Regions)

	sandbox, err := p.client.Sandboxes.Create(ctx, app, image, &modal.SandboxCreateParams{
		CPU:       cpus,
		MemoryMiB: memoryMiB,
		Env:       envVars,
		Timeout:   24 * time.Hour,
		Verbose:   p.config.Verbose,
		Regions:   p.config.Regions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal sandbox: %w", err)
	}

	slog.Debug("modal sandbox created", "sandbox_id", sandbox.SandboxID)
	return &modalEnvironment{sandbox: sandbox}, nil
}

type modalEnvironment struct {
	sandbox *modal.Sandbox
}

func (e *modalEnvironment) ID() string {
	return e.sandbox.SandboxID
}

// CopyTo copies a local file or directory into the sandbox.
func (e *modalEnvironment) CopyTo(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	dstDir := filepath.Dir(dst)
	if dstDir != "/" && dstDir != "." {
		if _, err := e.execSimple(ctx, fmt.Sprintf("mkdir -p %q", dstDir)); err != nil {
			return fmt.Errorf("creating directory %s: %w", dstDir, err)
		}
	}

	if info.IsDir() {
		return e.copyDirTo(ctx, src, dst)
	}
	return e.copyFileTo(ctx, src, dst)
}

func (e *modalEnvironment) copyFileTo(ctx context.Context, src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}

	f, err := e.sandbox.Open(ctx, dst, "w")
	if err != nil {
		return fmt.Errorf("opening destination file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing to destination: %w", err)
	}
	if err := f.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing file: %w", err)
	}
	return f.Close()
}

func (e *modalEnvironment) copyDirTo(ctx context.Context, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)

		if info.IsDir() {
			_, err := e.execSimple(ctx, fmt.Sprintf("mkdir -p %q", dstPath))
			return err
		}
		return e.copyFileTo(ctx, path, dstPath)
	})
}

// CopyFrom copies a file or directory from the sandbox to a local path.
func (e *modalEnvironment) CopyFrom(ctx context.Context, src, dst string) error {
	exitCode, _ := e.execSimple(ctx, fmt.Sprintf("test -d %q", src))
	if exitCode == 0 {
		return e.copyDirFrom(ctx, src, dst)
	}
	return e.copyFileFrom(ctx, src, dst)
}

func (e *modalEnvironment) copyFileFrom(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating local directory: %w", err)
	}

	f, err := e.sandbox.Open(ctx, src, "r")
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}
	return os.WriteFile(dst, content, 0644)
}

func (e *modalEnvironment) copyDirFrom(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating local directory: %w", err)
	}

	var listing strings.Builder
	process, err := e.sandbox.Exec(ctx, []string{"find", src, "-maxdepth", "1", "-mindepth", "1"}, &modal.SandboxExecParams{})
	if err != nil {
		return fmt.Errorf("listing sandbox directory: %w", err)
	}
	io.Copy(&listing, process.Stdout)
	if _, err := process.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for find: %w", err)
	}

	for _, entry := range strings.Split(strings.TrimSpace(listing.String()), "\n") {
		if entry == "" {
			continue
		}
		dstPath := filepath.Join(dst, filepath.Base(entry))

		exitCode, _ := e.execSimple(ctx, fmt.Sprintf("test -d %q", entry))
		if exitCode == 0 {
			if err := e.copyDirFrom(ctx, entry, dstPath); err != nil {
				return err
			}
		} else if err := e.copyFileFrom(ctx, entry, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *modalEnvironment) execSimple(ctx context.Context, cmd string) (int, error) {
	process, err := e.sandbox.Exec(ctx, []string{"bash", "-c", cmd}, &modal.SandboxExecParams{})
	if err != nil {
		return -1, err
	}
	io.Copy(io.Discard, process.Stdout)
	io.Copy(io.Discard, process.Stderr)
	return process.Wait(ctx)
}

// Exec runs a shell command in the sandbox.
func (e *modalEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	params := &modal.SandboxExecParams{Env: opts.Env}
	if opts.Timeout > 0 {
		params.Timeout = opts.Timeout
	}
	if opts.WorkDir != "" {
		params.Workdir = opts.WorkDir
	}

	process, err := e.sandbox.Exec(ctx, []string{"bash", "-c", cmd}, params)
	if err != nil {
		return -1, fmt.Errorf("executing command: %w", err)
	}

	done := make(chan struct{}, 2)
	go func() {
		if stdout != nil {
			io.Copy(stdout, process.Stdout)
		} else {
			io.Copy(io.Discard, process.Stdout)
		}
		done <- struct{}{}
	}()
	go func() {
		if stderr != nil {
			io.Copy(stderr, process.Stderr)
		} else {
			io.Copy(io.Discard, process.Stderr)
		}
		done <- struct{}{}
	}()
	<-done
	<-done

	exitCode, err := process.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for process: %w", err)
	}
	return exitCode, nil
}

// Destroy terminates the sandbox.
func (e *modalEnvironment) Destroy(ctx context.Context) error {
	if err := e.sandbox.Terminate(ctx); err != nil {
		if !strings.Contains(err.Error(), "already terminated") &&
			!strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("terminating sandbox: %w", err)
		}
	}
	return nil
}
