package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/weir-run/weir/internal/dataflow"
	"github.com/weir-run/weir/internal/taskproc"
)

// Runner wires a definition's processes into a dataflow graph and executes
// them concurrently.
type Runner struct {
	def  *Definition
	run  *taskproc.Run
	exec taskproc.Executor
}

// NewRunner creates a runner over a shared run scope.
func NewRunner(def *Definition, run *taskproc.Run, exec taskproc.Executor) *Runner {
	return &Runner{def: def, run: run, exec: exec}
}

// Execute builds one processor per process, connects declared outputs to
// downstream inputs by name and runs everything until all streams terminate
// or the run aborts.
func (r *Runner) Execute(ctx context.Context) error {
	procs := make(map[string]*taskproc.Processor, len(r.def.Processes))
	for _, p := range r.def.Processes {
		procs[p.Name] = taskproc.NewProcessor(r.run, p.TaskConfig(), r.exec)
	}

	for _, p := range r.def.Processes {
		consumer := procs[p.Name]
		for _, in := range p.Inputs {
			ch, err := r.sourceChannel(procs, in)
			if err != nil {
				return fmt.Errorf("wiring %s.%s: %w", p.Name, in.Name, err)
			}
			if err := consumer.SetInput(in.Name, ch); err != nil {
				return fmt.Errorf("wiring %s.%s: %w", p.Name, in.Name, err)
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, proc := range procs {
		slog.Debug("starting processor", "process", name)
		g.Go(func() error {
			return proc.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return r.run.Err()
}

// sourceChannel builds the channel feeding one input: a fresh queue bound to
// the producing output, or a pre-loaded literal channel.
func (r *Runner) sourceChannel(procs map[string]*taskproc.Processor, in ProcessInput) (*dataflow.Channel, error) {
	switch {
	case in.From != "":
		proc, out, _ := splitFrom(in.From)
		producer, ok := procs[proc]
		if !ok {
			return nil, fmt.Errorf("unknown process %q", proc)
		}
		ch := dataflow.NewQueue()
		if err := producer.BindOutput(out, ch); err != nil {
			return nil, err
		}
		return ch, nil
	case in.Values != nil:
		return dataflow.Of(in.Values...), nil
	default:
		return dataflow.NewValue(in.Value), nil
	}
}
