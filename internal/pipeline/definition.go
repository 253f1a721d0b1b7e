// Package pipeline loads workflow definitions and runs their processes as a
// wired dataflow graph.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/weir-run/weir/internal/models"
	"github.com/weir-run/weir/internal/refspec"
)

// IncludeResolver resolves a remote module reference to its installed
// directory, enforcing integrity policy at the boundary.
type IncludeResolver interface {
	ResolveInclude(ctx context.Context, rawRef string) (string, error)
}

// Include is a tagged union: either a local path or a remote module
// reference. Exactly one of Path and Module is set.
type Include struct {
	Path   string `yaml:"path,omitempty"`
	Module string `yaml:"module,omitempty"`

	// Resolved is the on-disk directory after resolution.
	Resolved string `yaml:"-"`
}

// ProcessInput declares one input of a process and where its values come
// from: a literal, a list of literals, or another process's output.
type ProcessInput struct {
	Name    string `yaml:"name"`
	StageAs string `yaml:"stage_as,omitempty"`
	From    string `yaml:"from,omitempty"` // "<process>.<output>"
	Value   any    `yaml:"value,omitempty"`
	Values  []any  `yaml:"values,omitempty"`
}

// Process declares one node of the dataflow graph.
type Process struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Tag     string            `yaml:"tag,omitempty"`
	Inputs  []ProcessInput    `yaml:"inputs,omitempty"`
	Outputs []models.OutParam `yaml:"outputs,omitempty"`
}

// TaskConfig converts the declaration into the processor core's config.
func (p Process) TaskConfig() models.TaskConfig {
	inputs := make([]models.InParam, len(p.Inputs))
	for i, in := range p.Inputs {
		inputs[i] = models.InParam{Name: in.Name, StageAs: in.StageAs}
	}
	return models.TaskConfig{
		Name:    p.Name,
		Command: p.Command,
		Tag:     p.Tag,
		Inputs:  inputs,
		Outputs: p.Outputs,
	}
}

// Definition is a parsed pipeline file.
type Definition struct {
	Name      string    `yaml:"name"`
	Includes  []Include `yaml:"includes,omitempty"`
	Processes []Process `yaml:"processes"`

	// Dir is the directory the definition was loaded from; local include
	// paths resolve relative to it.
	Dir string `yaml:"-"`
}

// Load reads and validates a pipeline definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	def.Dir = filepath.Dir(path)

	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if len(d.Processes) == 0 {
		return fmt.Errorf("pipeline declares no processes")
	}

	outputs := make(map[string]map[string]bool, len(d.Processes))
	for _, p := range d.Processes {
		if p.Name == "" {
			return fmt.Errorf("process with empty name")
		}
		if _, dup := outputs[p.Name]; dup {
			return fmt.Errorf("duplicate process name %q", p.Name)
		}
		if p.Command == "" {
			return fmt.Errorf("process %q has no command", p.Name)
		}
		outs := make(map[string]bool, len(p.Outputs))
		for _, out := range p.Outputs {
			if out.Name == "" {
				return fmt.Errorf("process %q declares an unnamed output", p.Name)
			}
			outs[out.Name] = true
		}
		outputs[p.Name] = outs
	}

	for _, p := range d.Processes {
		for _, in := range p.Inputs {
			if in.Name == "" {
				return fmt.Errorf("process %q declares an unnamed input", p.Name)
			}
			set := 0
			if in.From != "" {
				set++
			}
			if in.Value != nil {
				set++
			}
			if in.Values != nil {
				set++
			}
			if set != 1 {
				return fmt.Errorf("process %q input %q needs exactly one of from, value, values", p.Name, in.Name)
			}
			if in.From != "" {
				proc, out, ok := splitFrom(in.From)
				if !ok {
					return fmt.Errorf("process %q input %q: malformed source %q", p.Name, in.Name, in.From)
				}
				outs, known := outputs[proc]
				if !known {
					return fmt.Errorf("process %q input %q references unknown process %q", p.Name, in.Name, proc)
				}
				if !outs[out] {
					return fmt.Errorf("process %q input %q references unknown output %q of %q", p.Name, in.Name, out, proc)
				}
			}
		}
	}

	for i, inc := range d.Includes {
		hasPath := inc.Path != ""
		hasModule := inc.Module != ""
		if hasPath == hasModule {
			return fmt.Errorf("include %d needs exactly one of path, module", i)
		}
	}
	return nil
}

func splitFrom(s string) (process, output string, ok bool) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// ResolveIncludes resolves every include before the definition is considered
// loaded: local paths are stat-checked against the definition directory,
// remote references go through the resolver. Remote resolution runs in
// parallel.
func (d *Definition) ResolveIncludes(ctx context.Context, resolver IncludeResolver) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range d.Includes {
		inc := &d.Includes[i]

		if inc.Path != "" {
			p := inc.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(d.Dir, p)
			}
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("include path %s: %w", inc.Path, err)
			}
			inc.Resolved = p
			continue
		}

		if !refspec.IsReference(inc.Module) {
			return fmt.Errorf("include %q is not a module reference", inc.Module)
		}
		g.Go(func() error {
			dir, err := resolver.ResolveInclude(ctx, inc.Module)
			if err != nil {
				return fmt.Errorf("resolving include %s: %w", inc.Module, err)
			}
			inc.Resolved = dir
			slog.Debug("include resolved", "module", inc.Module, "dir", dir)
			return nil
		})
	}

	return g.Wait()
}
