package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomharrigan/phalanx/internal/executor"
	"github.com/tomharrigan/phalanx/internal/logging"
	"github.com/tomharrigan/phalanx/internal/merge"
	"github.com/tomharrigan/phalanx/internal/plan"
	"github.com/tomharrigan/phalanx/internal/status"
	"github.com/tomharrigan/phalanx/internal/verify"
	"github.com/tomharrigan/phalanx/internal/worktree"
)

// tailInterval is how often a running agent's output tail is refreshed in
// the status store.
const tailInterval = 2 * time.Second

// run executes a batch to a terminal state. It owns all writes to the batch
// status record.
func (o *Orchestrator) run(ctx context.Context, batchID string, p *plan.ExecutionPlan, maxParallel int) {
	log := o.log.WithBatch(batchID)

	// Preflight: refuse to run over uncommitted work. Merges would land on
	// top of whatever is lying around and failures could not be rolled back.
	clean, err := o.wt.IsClean()
	if err != nil {
		o.failBatch(batchID, fmt.Sprintf("preflight failed: %v", err))
		return
	}
	if !clean {
		dirty, _ := o.wt.DirtyPaths()
		o.failBatch(batchID, fmt.Sprintf(
			"repository has uncommitted changes in %d file(s): %s",
			len(dirty), strings.Join(dirty, ", ")))
		log.Error("batch rejected: dirty working tree", "dirty_files", len(dirty))
		return
	}

	trunk, err := o.wt.CurrentBranch()
	if err != nil {
		o.failBatch(batchID, fmt.Sprintf("preflight failed: %v", err))
		return
	}
	pipeline := merge.New(o.wt, trunk)

	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateRunning
	})
	log.Info("batch started", "phases", len(p.Phases), "agents", p.TotalAgents(), "trunk", trunk, "max_parallel", maxParallel)

	for _, phase := range p.Phases {
		if ctx.Err() != nil {
			o.cancelBatch(batchID, log)
			return
		}

		phaseLog := log.WithPhase(phase.ID)
		o.store.Update(batchID, func(b *status.BatchStatus) {
			b.CurrentPhase = phase.ID
			for _, a := range phase.Agents {
				b.Agents[a.AgentID] = &status.AgentStatus{
					AgentID: a.AgentID,
					PhaseID: phase.ID,
					Theme:   a.Theme,
					State:   status.AgentPending,
				}
			}
		})
		phaseLog.Info("phase started", "parallel", phase.Parallel, "agents", len(phase.Agents))

		if phase.Parallel {
			o.runParallelPhase(ctx, batchID, phase, pipeline, maxParallel, phaseLog)
		} else {
			o.runSequentialPhase(ctx, batchID, phase, phaseLog)
		}

		if ctx.Err() != nil {
			o.cancelBatch(batchID, log)
			return
		}
		phaseLog.Info("phase finished")
	}

	o.verifyBatch(ctx, batchID, p, log)
	if ctx.Err() != nil {
		o.cancelBatch(batchID, log)
		return
	}

	o.finalizeBatch(batchID, p, log)
}

// runParallelPhase fans the phase's agents out into isolated workspaces,
// waits for all of them, then merges their branches in ascending agent id
// and reclaims every workspace.
func (o *Orchestrator) runParallelPhase(ctx context.Context, batchID string, phase plan.Phase, pipeline *merge.Pipeline, maxParallel int, log *logging.Logger) {
	sem := newSemaphore(maxParallel)

	var (
		wg   sync.WaitGroup
		wsMu sync.Mutex
	)
	workspaces := make(map[int]*worktree.Workspace)

	for _, agent := range phase.Agents {
		wg.Add(1)
		go func(agent plan.AgentAssignment) {
			defer wg.Done()

			if err := sem.Acquire(ctx); err != nil {
				o.markAgentFailed(batchID, agent.AgentID, "cancelled before dispatch")
				return
			}
			defer sem.Release()

			o.wtMu.Lock()
			ws, err := o.wt.Create(batchID, agent.AgentID, "")
			o.wtMu.Unlock()
			if err != nil {
				o.markAgentFailed(batchID, agent.AgentID, err.Error())
				log.Error("workspace creation failed", "agent_id", agent.AgentID, "error", err)
				return
			}

			wsMu.Lock()
			workspaces[agent.AgentID] = ws
			wsMu.Unlock()

			o.runAgent(ctx, batchID, agent, ws.Path, log)
		}(agent)
	}
	wg.Wait()

	// Barrier passed: integrate results while no agent is running.
	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateMerging
	})

	ids := make([]int, 0, len(phase.Agents))
	for _, a := range phase.Agents {
		ids = append(ids, a.AgentID)
	}
	sort.Ints(ids)

	for _, id := range ids {
		ws := workspaces[id]
		if ws == nil {
			continue
		}
		if o.agentSucceeded(batchID, id) && ctx.Err() == nil {
			o.mergeAgent(batchID, id, ws, pipeline, log)
		}
	}

	// Reclaim every workspace, merged or not. Branch deletion after a failed
	// merge is safe: the work is either on the trunk or unrecoverable anyway.
	for _, id := range ids {
		ws := workspaces[id]
		if ws == nil {
			continue
		}
		o.wtMu.Lock()
		if err := o.wt.Destroy(ws); err != nil {
			log.Warn("workspace reclaim failed", "agent_id", id, "error", err)
		}
		o.wtMu.Unlock()
	}

	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateRunning
	})
}

// runSequentialPhase runs agents one at a time directly on the trunk,
// committing each agent's changes before the next starts.
func (o *Orchestrator) runSequentialPhase(ctx context.Context, batchID string, phase plan.Phase, log *logging.Logger) {
	for _, agent := range phase.Agents {
		if ctx.Err() != nil {
			o.markAgentFailed(batchID, agent.AgentID, "cancelled before dispatch")
			continue
		}

		o.runAgent(ctx, batchID, agent, o.wt.RepoDir(), log)

		if o.agentSucceeded(batchID, agent.AgentID) {
			msg := fmt.Sprintf("agent %d: %s", agent.AgentID, agent.Theme)
			if _, err := o.wt.CommitAll(o.wt.RepoDir(), msg); err != nil {
				log.Warn("failed to commit trunk changes", "agent_id", agent.AgentID, "error", err)
			}
		}
	}
}

// runAgent executes one agent in dir and records the outcome. A goroutine
// refreshes the output tail while the agent runs; its writes carry the
// generation they observed and are dropped if the batch state moved on.
func (o *Orchestrator) runAgent(ctx context.Context, batchID string, agent plan.AgentAssignment, dir string, log *logging.Logger) {
	logPath := o.agentLogPath(batchID, agent.AgentID)

	o.store.Update(batchID, func(b *status.BatchStatus) {
		if a := b.Agents[agent.AgentID]; a != nil {
			a.State = status.AgentRunning
			a.LogPath = logPath
		}
	})
	log.Info("agent dispatched", "agent_id", agent.AgentID, "theme", agent.Theme)

	stopTail := make(chan struct{})
	if logPath != "" {
		go o.tailLoop(batchID, agent.AgentID, logPath, stopTail)
	}

	res := o.exec.Execute(ctx, executor.Request{
		BatchID: batchID,
		AgentID: agent.AgentID,
		Prompt:  agent.Prompt,
		Dir:     dir,
		LogPath: logPath,
	})
	close(stopTail)

	o.store.Update(batchID, func(b *status.BatchStatus) {
		a := b.Agents[agent.AgentID]
		if a == nil {
			return
		}
		a.OutputTail = res.OutputTail
		a.CostUSD = res.CostUSD
		a.Duration = res.Duration
		if res.Success {
			a.State = status.AgentCompleted
		} else {
			a.State = status.AgentFailed
			if res.Err != nil {
				a.Error = res.Err.Error()
			}
		}
		b.TotalCostUSD += res.CostUSD
	})

	if res.Success {
		log.Info("agent completed", "agent_id", agent.AgentID, "duration", res.Duration, "cost_usd", res.CostUSD)
	} else {
		log.Warn("agent failed", "agent_id", agent.AgentID, "error", res.Err)
	}
}

// tailLoop periodically refreshes an agent's output tail until stop closes.
func (o *Orchestrator) tailLoop(batchID string, agentID int, logPath string, stop <-chan struct{}) {
	ticker := time.NewTicker(tailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		snap, ok := o.store.Snapshot(batchID)
		if !ok {
			return
		}
		tail := executor.TailFile(logPath, executor.TailBytes)
		o.store.UpdateIfCurrent(batchID, snap.Generation, func(b *status.BatchStatus) {
			if a := b.Agents[agentID]; a != nil && a.State == status.AgentRunning {
				a.OutputTail = tail
			}
		})
	}
}

// mergeAgent commits leftover workspace changes and runs the merge pipeline
// for one agent branch.
func (o *Orchestrator) mergeAgent(batchID string, agentID int, ws *worktree.Workspace, pipeline *merge.Pipeline, log *logging.Logger) {
	msg := fmt.Sprintf("agent %d work", agentID)
	if _, err := o.wt.CommitAll(ws.Path, msg); err != nil {
		log.Warn("failed to commit workspace changes", "agent_id", agentID, "error", err)
	}

	res, err := pipeline.Merge(ws)
	if err != nil {
		res = merge.Result{
			Branch:           ws.Branch,
			ResolutionMethod: merge.ResolutionRebaseFailed,
			Message:          err.Error(),
		}
	}

	o.store.Update(batchID, func(b *status.BatchStatus) {
		if a := b.Agents[agentID]; a != nil {
			a.Merge = &res
			if !res.Success {
				a.State = status.AgentFailed
				a.Error = res.Message
			}
		}
	})

	if res.Success {
		log.Info("branch merged", "agent_id", agentID, "resolution", res.ResolutionMethod)
	} else {
		log.Warn("merge failed", "agent_id", agentID, "resolution", res.ResolutionMethod, "conflicts", res.ConflictFiles)
	}
}

// verifyBatch runs the success-criteria check. The result is recorded on the
// batch but never changes its outcome.
func (o *Orchestrator) verifyBatch(ctx context.Context, batchID string, p *plan.ExecutionPlan, log *logging.Logger) {
	if o.evaluator == nil || ctx.Err() != nil {
		return
	}

	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateVerifying
	})

	res := verify.Run(ctx, o.evaluator, p.SuccessCriteria, workSummary(p))
	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.Verification = &res
	})
	log.Info("verification finished", "overall_pass", res.OverallPass, "summary", res.Summary)
}

// finalizeBatch commits leftover tracked trunk changes and marks the batch
// complete.
func (o *Orchestrator) finalizeBatch(batchID string, p *plan.ExecutionPlan, log *logging.Logger) {
	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateFinalizing
	})

	msg := fmt.Sprintf("finalize %s: %s", batchID, workSummary(p))
	committed, err := o.wt.CommitAll(o.wt.RepoDir(), msg)

	finalMsg := "no leftover changes"
	switch {
	case err != nil:
		finalMsg = fmt.Sprintf("finalize commit failed: %v", err)
		log.Warn("finalize commit failed", "error", err)
	case committed:
		finalMsg = "committed leftover changes"
	}

	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.FinalizeMsg = finalMsg
		b.State = status.StateComplete
	})
	log.Info("batch complete", "finalize", finalMsg)
}

// cancelBatch sweeps every batch workspace and marks the batch cancelled.
// Verification and finalize are skipped.
func (o *Orchestrator) cancelBatch(batchID string, log *logging.Logger) {
	o.wtMu.Lock()
	cleaned := o.wt.CleanupBatch(batchID)
	o.wtMu.Unlock()

	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateCancelled
		for _, a := range b.Agents {
			if a.State == status.AgentPending || a.State == status.AgentRunning {
				a.State = status.AgentFailed
				a.Error = "batch cancelled"
			}
		}
	})
	log.Info("batch cancelled", "workspaces_cleaned", cleaned)
}

// failBatch marks the batch failed before any work was attempted.
func (o *Orchestrator) failBatch(batchID, reason string) {
	o.store.Update(batchID, func(b *status.BatchStatus) {
		b.State = status.StateFailed
		b.Error = reason
	})
}

// markAgentFailed records a failure for an agent that never ran.
func (o *Orchestrator) markAgentFailed(batchID string, agentID int, reason string) {
	o.store.Update(batchID, func(b *status.BatchStatus) {
		if a := b.Agents[agentID]; a != nil {
			a.State = status.AgentFailed
			a.Error = reason
		}
	})
}

// agentSucceeded reports whether the agent's subprocess completed cleanly.
func (o *Orchestrator) agentSucceeded(batchID string, agentID int) bool {
	snap, ok := o.store.Snapshot(batchID)
	if !ok {
		return false
	}
	a := snap.Agents[agentID]
	return a != nil && a.State == status.AgentCompleted
}
