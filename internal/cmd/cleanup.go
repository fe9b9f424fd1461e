package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomharrigan/phalanx/internal/config"
	"github.com/tomharrigan/phalanx/internal/ui"
	"github.com/tomharrigan/phalanx/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned workspaces and branches",
	Long: `Cleanup removes resources left behind by interrupted runs:

- Worktrees under .phalanx/worktrees/ whose batch is no longer running
- Branches under the configured prefix with no matching worktree
  (prefix is configured via branch.prefix, default: "phalanx")

Use --dry-run to see what would be removed without making changes.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun bool
	cleanupForce  bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	wt, err := worktree.New(cwd, cfg.Branch.Prefix)
	if err != nil {
		return err
	}

	orphans, err := wt.List()
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned resources found. Nothing to clean up.")
		return nil
	}

	fmt.Printf("Found %d orphaned workspace(s):\n", len(orphans))
	for _, ws := range orphans {
		fmt.Printf("  %s %s %s\n", ui.Yellow(ws.Branch), ui.Dim("->"), ws.Path)
	}

	if cleanupDryRun {
		fmt.Println(ui.Dim("\nDry run: nothing removed."))
		return nil
	}

	if !cleanupForce && !confirm("Remove these resources?") {
		fmt.Println("Aborted.")
		return nil
	}

	// The CLI has no live batches, so nothing is held back.
	n := wt.CleanupOrphans(nil)
	fmt.Printf("%s removed %d resource(s)\n", ui.Green("cleanup:"), n)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
