// Package orchestrator drives batch execution: phase scheduling, workspace
// lifecycle, merging, verification, and finalization.
//
// A batch executes an approved plan phase by phase. Parallel phases fan
// agents out into isolated workspaces under a concurrency limit; sequential
// phases run agents one at a time directly on the trunk. All agent branches
// from a phase are merged before the next phase begins.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomharrigan/phalanx/internal/executor"
	"github.com/tomharrigan/phalanx/internal/logging"
	"github.com/tomharrigan/phalanx/internal/plan"
	"github.com/tomharrigan/phalanx/internal/status"
	"github.com/tomharrigan/phalanx/internal/verify"
	"github.com/tomharrigan/phalanx/internal/worktree"
)

// maxParallelLimit caps per-batch concurrency regardless of what a caller
// asks for.
const maxParallelLimit = 8

// Options configures an Orchestrator.
type Options struct {
	// MaxParallel is the default bound on concurrent agents in parallel
	// phases, used when Start is called with maxParallel <= 0.
	MaxParallel int
	// RuntimeDir holds per-batch agent logs.
	RuntimeDir string
	// Evaluator checks success criteria after the final phase. Nil disables
	// verification.
	Evaluator verify.Evaluator
	// Logger receives structured run events. Nil discards them.
	Logger *logging.Logger
}

// Orchestrator executes batches against one repository.
type Orchestrator struct {
	wt          *worktree.Manager
	exec        executor.Executor
	store       *status.Store
	log         *logging.Logger
	runtimeDir  string
	maxParallel int
	evaluator   verify.Evaluator

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}

	// wtMu serializes worktree create/destroy: git locks the repo for
	// worktree mutation, and interleaved calls produce confusing errors.
	wtMu sync.Mutex
}

// New creates an Orchestrator. The executor runs agents; the store receives
// all batch status.
func New(wt *worktree.Manager, exec executor.Executor, store *status.Store, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	return &Orchestrator{
		wt:          wt,
		exec:        exec,
		store:       store,
		log:         log,
		runtimeDir:  opts.RuntimeDir,
		maxParallel: clampParallel(opts.MaxParallel),
		evaluator:   opts.Evaluator,
		cancels:     make(map[string]context.CancelFunc),
		done:        make(map[string]chan struct{}),
	}
}

// GenerateBatchID returns a unique, sortable batch identifier.
func GenerateBatchID() string {
	return fmt.Sprintf("batch-%s-%s",
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:8])
}

// clampParallel bounds a concurrency request to 1..maxParallelLimit.
func clampParallel(n int) int {
	switch {
	case n < 1:
		return 1
	case n > maxParallelLimit:
		return maxParallelLimit
	default:
		return n
	}
}

// Start validates the plan, registers the batch, and begins execution in the
// background. It returns once the batch is registered; progress is observed
// through Status. maxParallel bounds this batch's concurrency; values <= 0
// select the orchestrator default and everything is clamped to the supported
// range.
func (o *Orchestrator) Start(batchID string, p *plan.ExecutionPlan, maxParallel int) error {
	if err := plan.Validate(p); err != nil {
		return err
	}

	if maxParallel <= 0 {
		maxParallel = o.maxParallel
	}
	maxParallel = clampParallel(maxParallel)

	if _, err := o.store.Create(batchID, p.Summary, len(p.Phases)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})

	o.mu.Lock()
	o.cancels[batchID] = cancel
	o.done[batchID] = doneCh
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, batchID)
			delete(o.done, batchID)
			o.mu.Unlock()
			cancel()
			close(doneCh)
		}()
		o.run(ctx, batchID, p, maxParallel)
	}()

	return nil
}

// Status returns a snapshot of the batch, or false if unknown.
func (o *Orchestrator) Status(batchID string) (*status.BatchStatus, bool) {
	return o.store.Snapshot(batchID)
}

// Cancel requests cooperative cancellation of a running batch. Returns false
// if the batch is unknown or already finished.
func (o *Orchestrator) Cancel(batchID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[batchID]
	o.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// Wait blocks until the batch reaches a terminal state. Returns immediately
// for unknown batches.
func (o *Orchestrator) Wait(batchID string) {
	o.mu.Lock()
	doneCh, ok := o.done[batchID]
	o.mu.Unlock()

	if ok {
		<-doneCh
	}
}

// CleanupOrphans sweeps workspaces and branches left behind by batches that
// are no longer live, e.g. after a crash. Returns the number removed.
func (o *Orchestrator) CleanupOrphans() int {
	o.wtMu.Lock()
	defer o.wtMu.Unlock()
	return o.wt.CleanupOrphans(o.store.Live())
}

// agentLogPath returns where one agent's output is streamed.
func (o *Orchestrator) agentLogPath(batchID string, agentID int) string {
	if o.runtimeDir == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/agent-%d.log", o.runtimeDir, batchID, agentID)
}

// workSummary builds a one-line description of the batch for the evaluator
// and the finalize commit.
func workSummary(p *plan.ExecutionPlan) string {
	if p.Summary != "" {
		return p.Summary
	}
	var themes []string
	for _, ph := range p.Phases {
		for _, a := range ph.Agents {
			if a.Theme != "" {
				themes = append(themes, a.Theme)
			}
		}
	}
	return strings.Join(themes, "; ")
}
