package taskproc

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/weir-run/weir/internal/config"
	"github.com/weir-run/weir/internal/dataflow"
	"github.com/weir-run/weir/internal/models"
)

// Binding attaches a downstream channel to a declared output parameter.
type Binding struct {
	ch *dataflow.Channel
}

// Processor drives one declared process: it pulls input sets from its
// channels, turns each set into a task run and binds the results downstream.
//
// State machine per process: PENDING until the first input set arrives,
// RUNNING while a task executes, COMPLETED or FAILED per task, and TERMINATED
// once the poison pill has been propagated (guaranteed after a single run
// when every input is a scalar).
type Processor struct {
	cfg  models.TaskConfig
	run  *Run
	exec Executor

	inputs  []*dataflow.Channel // parallel to cfg.Inputs
	outputs map[string][]*Binding
}

// NewProcessor creates a processor for one declared process.
func NewProcessor(run *Run, cfg models.TaskConfig, exec Executor) *Processor {
	return &Processor{
		cfg:     cfg,
		run:     run,
		exec:    exec,
		inputs:  make([]*dataflow.Channel, len(cfg.Inputs)),
		outputs: make(map[string][]*Binding),
	}
}

// SetInput attaches the channel feeding the named declared input.
func (p *Processor) SetInput(name string, ch *dataflow.Channel) error {
	for i, in := range p.cfg.Inputs {
		if in.Name == name {
			p.inputs[i] = ch
			return nil
		}
	}
	return fmt.Errorf("process %s declares no input %q", p.cfg.Name, name)
}

// BindOutput attaches a downstream channel to the named declared output.
func (p *Processor) BindOutput(name string, ch *dataflow.Channel) error {
	for _, out := range p.cfg.Outputs {
		if out.Name == name {
			p.outputs[name] = append(p.outputs[name], &Binding{ch: ch})
			return nil
		}
	}
	return fmt.Errorf("process %s declares no output %q", p.cfg.Name, name)
}

// Run consumes input sets until a stream ends, the run aborts, or (when all
// inputs are scalar) one task has completed. On exit it propagates the stop
// sentinel to every bound downstream channel.
func (p *Processor) Run(ctx context.Context) error {
	// Channel operations must unpark on either the caller's cancellation or
	// a run abort, whichever comes first, so both are folded into one
	// context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(p.run.Context(), cancel)
	defer release()

	defer p.terminate(ctx)

	for i, ch := range p.inputs {
		if ch == nil {
			return fmt.Errorf("process %s: input %s not wired", p.cfg.Name, p.cfg.Inputs[i].Name)
		}
	}

	allScalar := true
	for _, ch := range p.inputs {
		if !ch.IsValue() {
			allScalar = false
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.run.Context().Done():
			return p.run.Err()
		default:
		}

		values, ok := p.takeInputSet(ctx)
		if !ok {
			return p.run.Err()
		}

		if err := p.runTask(ctx, values); err != nil {
			var taskErr *models.TaskError
			if errors.As(err, &taskErr) && taskErr.Ignorable() && p.run.Strategy == config.StrategyIgnore {
				slog.Warn("task failed, continuing per error strategy",
					"task", taskErr.Task, "error", taskErr.Message)
			} else {
				p.run.Abort(err)
				return err
			}
		}

		// Scalar-only processes run exactly once.
		if allScalar || len(p.inputs) == 0 {
			return nil
		}
	}
}

// takeInputSet pulls one value from every input channel in declaration order.
// ok is false once any stream has ended or the context was cancelled while
// waiting.
func (p *Processor) takeInputSet(ctx context.Context) (map[string]any, bool) {
	if len(p.inputs) == 0 {
		return map[string]any{}, true
	}
	values := make(map[string]any, len(p.inputs))
	for i, ch := range p.inputs {
		v, ok := ch.Take(ctx)
		if !ok {
			return nil, false
		}
		values[p.cfg.Inputs[i].Name] = v
	}
	return values, true
}

// terminate propagates the stream-end sentinel downstream, exactly once per
// bound channel.
func (p *Processor) terminate(ctx context.Context) {
	for _, param := range p.cfg.Outputs {
		for _, b := range p.outputs[param.Name] {
			b.ch.CloseWithStop(ctx)
		}
	}
}

/// runTask executes one task for the given input set: normalize and stage
// inputs, reuse a cached directory when possible, otherwise execute, then
// collect and bind outputs.
func (p *Processor) runTask(ctx context.Context, values map[string]any) error {
	task := &models.TaskRun{
		Index:       p.run.NextIndex(),
		Name:        p.cfg.Name,
		Status:      models.StatusPending,
		Command:     p.cfg.Command,
		InputValues: values,
	}

	stageDir := filepath.Join(p.run.WorkRoot, "stage", fmt.Sprintf("%s-%d", p.cfg.Name, task.Index))
	for _, in := range p.cfg.Inputs {
		holders, err := normalizeInput(stageDir, in, values[in.Name])
		if err != nil {
			return &models.TaskError{
				Type:    models.ErrTaskValidationFailed,
				Message: err.Error(),
				Task:    task.DisplayName(),
			}
		}
		task.Inputs = append(task.Inputs, holders...)
	}

	sum := p.identity(task)

	if dir := p.run.workDirFor(sum); p.run.probeCache(task, p.cfg, dir) {
		slog.Info("task cached", "task", task.DisplayName(), "dir", dir)
		task.Status = models.StatusCompleted
		if p.run.Echo {
			replayStdout(task)
		}
		bindOutputs(ctx, task, p.cfg, p.outputs)
		return nil
	}

	dir, err := p.run.allocateWorkDir(sum)
	if err != nil {
		return err
	}
	task.WorkDir = dir
	task.Stdout = filepath.Join(dir, StdoutFile)

	if err := stageFiles(dir, task.Inputs); err != nil {
		return &models.TaskError{
			Type:    models.ErrTaskValidationFailed,
			Message: err.Error(),
			Task:    task.DisplayName(),
			WorkDir: dir,
		}
	}

	task.Status = models.StatusRunning
	slog.Info("task started", "task", task.DisplayName(), "dir", dir)

	if err := p.exec.Execute(ctx, task, p.cfg); err != nil {
		task.Status = models.StatusFailed
		return p.composeError(task, models.ErrTaskExecutionFailed, err.Error())
	}

	code, err := readExitCode(dir)
	if err != nil {
		task.Status = models.StatusFailed
		return p.composeError(task, models.ErrTaskExecutionFailed, fmt.Sprintf("reading exit marker: %v", err))
	}
	task.ExitCode = code
	if !p.run.ValidExitCodes[code] {
		task.Status = models.StatusFailed
		return p.composeError(task, models.ErrTaskExecutionFailed, fmt.Sprintf("exit code %d not in valid set", code))
	}

	if err := collectOutputs(task, p.cfg); err != nil {
		task.Status = models.StatusFailed
		var taskErr *models.TaskError
		if errors.As(err, &taskErr) {
			return err
		}
		return p.composeError(task, models.ErrInternalError, err.Error())
	}

	task.Status = models.StatusCompleted
	if p.run.Echo {
		replayStdout(task)
	}
	bindOutputs(ctx, task, p.cfg, p.outputs)
	slog.Info("task completed", "task", task.DisplayName(), "exit", code)
	return nil
}

// identity hashes what makes this task distinct: the process name, the
// command and every input in declaration order with its staged name.
func (p *Processor) identity(task *models.TaskRun) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(p.cfg.Name))
	h.Write([]byte{0})
	h.Write([]byte(p.cfg.Command))
	for _, in := range task.Inputs {
		h.Write([]byte{0})
		h.Write([]byte(in.StageName))
		h.Write([]byte{0})
		h.Write([]byte(fmt.Sprint(in.Source)))
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// composeError builds the aggregated diagnostic for a fatal task failure:
// message, executed command, captured output and working directory.
func (p *Processor) composeError(task *models.TaskRun, kind models.ErrorType, msg string) error {
	var output string
	if task.Stdout != "" {
		if data, err := os.ReadFile(task.Stdout); err == nil {
			output = string(data)
		}
	}
	return &models.TaskError{
		Type:    kind,
		Message: msg,
		Task:    task.DisplayName(),
		Command: task.Command,
		Output:  output,
		WorkDir: task.WorkDir,
	}
}
