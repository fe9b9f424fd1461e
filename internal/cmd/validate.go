package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomharrigan/phalanx/internal/plan"
	"github.com/tomharrigan/phalanx/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Check a plan file for structural problems",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])

	var verr *plan.ValidationError
	if errors.As(err, &verr) {
		fmt.Printf("%s %d problem(s):\n", ui.BoldRed("invalid plan:"), len(verr.Problems))
		for _, problem := range verr.Problems {
			fmt.Printf("  %s %s\n", ui.Red("✗"), problem)
		}
		return fmt.Errorf("plan validation failed")
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s %d phase(s), %d agent(s)\n", ui.BoldGreen("valid plan:"), len(p.Phases), p.TotalAgents())
	for _, ph := range p.Phases {
		mode := "sequential"
		if ph.Parallel {
			mode = "parallel"
		}
		fmt.Printf("  phase %d %s %s, %d agent(s)\n", ph.ID, ui.Dim(ph.Name), ui.Cyan(mode), len(ph.Agents))
	}
	for _, w := range p.Warnings {
		fmt.Printf("  %s %s\n", ui.Yellow("warning:"), w)
	}
	return nil
}
