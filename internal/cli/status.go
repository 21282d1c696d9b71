package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bmblack/backlog-synthesizer/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show the checkpointed state of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	threadID := args[0]
	ctx := context.Background()

	if err := connectDB(ctx); err != nil {
		return err
	}

	state, err := workflow.NewDBCheckpointer(dbClient).Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, workflow.ErrNoCheckpoint) {
			return fmt.Errorf("no saved run found for thread %q", threadID)
		}
		return err
	}

	fmt.Printf("Thread:       %s\n", threadID)
	fmt.Printf("Input:        %s\n", state.InputPath)
	fmt.Printf("Step:         %s\n", state.CurrentStep)
	fmt.Printf("Approval:     %s\n", state.ApprovalStatus)
	fmt.Printf("Requirements: %d\n", len(state.Requirements))
	if state.GapAnalysis != nil {
		fmt.Printf("Gap analysis: %d novel, %d covered\n",
			state.GapAnalysis.TotalNovel, state.GapAnalysis.TotalCovered)
	}
	fmt.Printf("Stories:      %d\n", len(state.Stories))
	fmt.Printf("Issues:       %d created\n", len(state.CreatedIssues))
	if len(state.Errors) > 0 {
		fmt.Printf("Errors:\n")
		for _, stepErr := range state.Errors {
			fmt.Printf("  [%s] %s\n", stepErr.Step, stepErr.Error)
		}
	}
	return nil
}
