package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/workflow"
)

var (
	resumeApprove  bool
	resumeReject   bool
	resumeFeedback string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Resume a paused or interrupted run",
	Long: `Resume a run from its last checkpoint. A run paused at the approval
gate needs --approve or --reject; an interrupted run resumes from wherever
it stopped.

Examples:
  backlog-synthesizer resume sprint-42 --approve
  backlog-synthesizer resume sprint-42 --reject --feedback "split the export story"
  backlog-synthesizer resume sprint-42`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "approve the pending stories and push them")
	resumeCmd.Flags().BoolVar(&resumeReject, "reject", false, "reject the pending stories")
	resumeCmd.Flags().StringVar(&resumeFeedback, "feedback", "", "reviewer feedback to record")
}

func runResume(cmd *cobra.Command, args []string) error {
	if resumeApprove && resumeReject {
		return fmt.Errorf("--approve and --reject are mutually exclusive")
	}

	threadID := args[0]
	ctx := context.Background()

	engine, err := buildEngine(ctx, cfg.AutoApprove)
	if err != nil {
		return err
	}

	var approval *models.ApprovalStatus
	if resumeApprove {
		approved := models.ApprovalApproved
		approval = &approved
	} else if resumeReject {
		rejected := models.ApprovalRejected
		approval = &rejected
	}

	state, err := engine.Resume(ctx, threadID, approval, resumeFeedback)
	if err != nil {
		if errors.Is(err, workflow.ErrNoCheckpoint) {
			return fmt.Errorf("no saved run found for thread %q", threadID)
		}
		return err
	}

	printStateSummary(threadID, state)
	return nil
}
