package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomharrigan/phalanx/internal/config"
	"github.com/tomharrigan/phalanx/internal/executor"
	"github.com/tomharrigan/phalanx/internal/filelock"
	"github.com/tomharrigan/phalanx/internal/logging"
	"github.com/tomharrigan/phalanx/internal/orchestrator"
	"github.com/tomharrigan/phalanx/internal/plan"
	"github.com/tomharrigan/phalanx/internal/status"
	"github.com/tomharrigan/phalanx/internal/ui"
	"github.com/tomharrigan/phalanx/internal/verify"
	"github.com/tomharrigan/phalanx/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute an approved plan",
	Long: `Run loads a plan file, validates it, and executes it against the
repository containing the current directory. Progress is printed until the
batch reaches a terminal state.

The repository must have no uncommitted tracked changes: agent branches are
merged onto the trunk as each phase completes, and a dirty tree would mix
your work with theirs.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runMaxParallel int
	runNoVerify    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runMaxParallel, "max-parallel", "p", 0, "Maximum concurrent agents (default from config)")
	runCmd.Flags().BoolVar(&runNoVerify, "no-verify", false, "Skip success-criteria verification")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	wt, err := worktree.New(cwd, cfg.Branch.Prefix)
	if err != nil {
		return err
	}

	maxParallel := cfg.Orchestrator.MaxParallel
	if runMaxParallel != 0 {
		maxParallel = config.ClampMaxParallel(runMaxParallel)
	}

	exec, err := executor.New(cfg.Executor.Provider, cfg.Executor.Command, cfg.Executor.Timeout())
	if err != nil {
		return err
	}

	runtimeDir := cfg.Paths.ResolveRuntimeDir(wt.RepoDir())

	lock, err := filelock.Acquire(runtimeDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	batchID := orchestrator.GenerateBatchID()

	log, err := logging.NewLogger(fmt.Sprintf("%s/%s", runtimeDir, batchID), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	var evaluator verify.Evaluator
	if cfg.Verification.Enabled && !runNoVerify {
		evaluator = &verify.CommandEvaluator{
			Exec:    exec,
			Dir:     wt.RepoDir(),
			LogPath: fmt.Sprintf("%s/%s/verify.log", runtimeDir, batchID),
		}
	}

	store := status.NewStore()
	orch := orchestrator.New(wt, exec, store, orchestrator.Options{
		MaxParallel: cfg.Orchestrator.MaxParallel,
		RuntimeDir:  runtimeDir,
		Evaluator:   evaluator,
		Logger:      log,
	})

	// Sweep leftovers from crashed runs before starting.
	if n := orch.CleanupOrphans(); n > 0 {
		fmt.Fprintf(os.Stderr, "%s removed %d orphaned resource(s)\n", ui.Dim("cleanup:"), n)
	}

	fmt.Fprintf(os.Stderr, "%s %s: %d phase(s), %d agent(s), max %d parallel\n",
		ui.BoldCyan("batch"), batchID, len(p.Phases), p.TotalAgents(), maxParallel)

	if err := orch.Start(batchID, p, maxParallel); err != nil {
		return err
	}

	watchBatch(orch, batchID)

	snap, _ := orch.Status(batchID)
	printSummary(snap)

	switch snap.State {
	case status.StateComplete:
		return nil
	case status.StateCancelled:
		return fmt.Errorf("batch cancelled")
	default:
		return fmt.Errorf("batch failed: %s", snap.Error)
	}
}

// watchBatch prints state transitions until the batch finishes.
func watchBatch(orch *orchestrator.Orchestrator, batchID string) {
	done := make(chan struct{})
	go func() {
		orch.Wait(batchID)
		close(done)
	}()

	var lastState status.BatchState
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		snap, ok := orch.Status(batchID)
		if !ok {
			return
		}
		if snap.State != lastState {
			fmt.Fprintf(os.Stderr, "  %s phase %d/%d\n",
				ui.BatchState(string(snap.State)), snap.CurrentPhase, snap.TotalPhases)
			lastState = snap.State
		}
	}
}

// printSummary renders the final per-agent table and verification outcome.
func printSummary(snap *status.BatchStatus) {
	w := os.Stderr

	ids := make([]int, 0, len(snap.Agents))
	for id := range snap.Agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Fprintf(w, "\n%s %s\n", ui.Bold("batch"), ui.BatchState(string(snap.State)))
	for _, id := range ids {
		a := snap.Agents[id]
		line := fmt.Sprintf("  %s agent %d %s", ui.AgentStateIcon(string(a.State)), id, ui.Dim(a.Theme))
		if a.Merge != nil {
			line += " " + ui.MergeResolution(a.Merge.ResolutionMethod)
		}
		if a.Error != "" {
			line += " " + ui.Red(a.Error)
		}
		fmt.Fprintln(w, line)
	}

	if snap.Verification != nil {
		verdict := ui.Green("passed")
		if !snap.Verification.OverallPass {
			verdict = ui.Yellow("not satisfied (informational)")
		}
		fmt.Fprintf(w, "  verification: %s %s\n", verdict, ui.Dim(snap.Verification.Summary))
	}
	if snap.FinalizeMsg != "" {
		fmt.Fprintf(w, "  finalize: %s\n", ui.Dim(snap.FinalizeMsg))
	}
	if snap.TotalCostUSD > 0 {
		fmt.Fprintf(w, "  cost: $%.4f\n", snap.TotalCostUSD)
	}
}
