// Package taskproc is the dataflow engine core: it turns declarative process
// configurations into executing, cacheable task runs.
package taskproc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/weir-run/weir/internal/config"
	"github.com/weir-run/weir/internal/models"
)

// Executor runs a prepared task inside its working directory. On return the
// exit marker, command file and stdout capture must exist in the working
// directory; completion must be observable before outputs are collected.
type Executor interface {
	Execute(ctx context.Context, task *models.TaskRun, cfg models.TaskConfig) error
}

// Working directory marker files shared between the processor and executors.
const (
	CommandFile = ".command.sh"
	StdoutFile  = ".command.out"
	ExitFile    = ".exitcode"
)

// Run is the shared state of one pipeline execution. Three separate locks
// protect the three pieces of bookkeeping that concurrent processors touch:
// ordinal assignment, working-directory allocation and fatal error reporting.
// None of them is held across fetching, hashing or task execution.
type Run struct {
	WorkRoot       string
	ValidExitCodes map[int]bool
	Echo           bool
	Strategy       config.ErrorStrategy

	ctx    context.Context
	cancel context.CancelFunc

	indexMu   sync.Mutex
	nextIndex int

	workdirMu sync.Mutex

	errMu       sync.Mutex
	errReported bool
	err         error
}

// NewRun creates the shared run state for one pipeline execution.
func NewRun(ctx context.Context, cfg config.RunConfig) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	return &Run{
		WorkRoot:       cfg.WorkDir,
		ValidExitCodes: cfg.ExitCodeSet(),
		Echo:           cfg.EchoOutput,
		Strategy:       cfg.ErrorStrategy,
		ctx:            runCtx,
		cancel:         cancel,
	}
}

// Context is cancelled when the run aborts.
func (r *Run) Context() context.Context {
	return r.ctx
}

// NextIndex assigns the next task ordinal. Monotonic and collision-free
// across concurrent processors.
func (r *Run) NextIndex() int {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	r.nextIndex++
	return r.nextIndex
}

// TaskCount reports how many task ordinals have been assigned so far.
func (r *Run) TaskCount() int {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	return r.nextIndex
}

// Abort records a fatal error exactly once and cancels the whole run. Later
// calls are ignored so that concurrent failures do not double-report.
func (r *Run) Abort(err error) {
	r.errMu.Lock()
	already := r.errReported
	if !already {
		r.errReported = true
		r.err = err
	}
	r.errMu.Unlock()

	if already {
		return
	}
	slog.Error("run aborted", "error", err)
	r.cancel()
}

// Err returns the recorded fatal error, if any.
func (r *Run) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// workDirFor maps a task identity hash onto its canonical working directory,
// without creating it.
func (r *Run) workDirFor(sum [sha256.Size]byte) string {
	name := hex.EncodeToString(sum[:])
	return filepath.Join(r.WorkRoot, name[:2], name[2:])
}

// allocateWorkDir creates a fresh working directory for the identity hash.
// When the canonical directory already exists (a previous run that was not a
// cache hit, or a concurrent task with a colliding identity), a random salt is
// mixed in and the name recomputed until a free one is found. The existence
// check and creation happen under one lock shared by all tasks in the run.
func (r *Run) allocateWorkDir(sum [sha256.Size]byte) (string, error) {
	r.workdirMu.Lock()
	defer r.workdirMu.Unlock()

	for {
		dir := r.workDirFor(sum)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", fmt.Errorf("creating work dir %s: %w", dir, err)
			}
			return dir, nil
		}

		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("salting work dir name: %w", err)
		}
		sum = sha256.Sum256(append(sum[:], salt...))
	}
}
