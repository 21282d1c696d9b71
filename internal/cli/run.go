package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/workflow"
)

var (
	runThreadID    string
	runDryRun      bool
	runAutoApprove bool
	runContext     []string
)

var runCmd = &cobra.Command{
	Use:   "run <transcript-file>",
	Short: "Run the synthesis pipeline on a transcript",
	Long: `Run the full pipeline on a transcript file: extract requirements,
compare them against the existing backlog, generate user stories for the
novel ones, and pause for approval before pushing to JIRA.

Examples:
  backlog-synthesizer run sprint-planning.txt
  backlog-synthesizer run interview.md --dry-run
  backlog-synthesizer run notes.txt --auto-approve --context project=billing
  backlog-synthesizer run notes.txt --thread sprint-42`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runThreadID, "thread", "", "thread id for checkpointing (generated when empty)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "plan the push without creating JIRA issues")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "skip the human approval gate")
	runCmd.Flags().StringSliceVar(&runContext, "context", nil, "extra context as key=value pairs")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := buildEngine(ctx, runAutoApprove || cfg.AutoApprove)
	if err != nil {
		return err
	}

	threadID := runThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	userCtx := parseContextPairs(runContext)
	if runDryRun {
		// Recorded so a later resume keeps the same mode.
		userCtx["dry_run"] = true
	}

	state, err := engine.Run(ctx, args[0], workflow.RunOptions{
		ThreadID:    threadID,
		UserContext: userCtx,
		DryRun:      runDryRun,
	})
	if err != nil {
		return err
	}

	printStateSummary(threadID, state)
	return nil
}

func parseContextPairs(pairs []string) map[string]any {
	ctx := map[string]any{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		ctx[key] = value
	}
	return ctx
}

func printStateSummary(threadID string, state *models.WorkflowState) {
	fmt.Printf("Thread:       %s\n", threadID)
	fmt.Printf("Step:         %s\n", state.CurrentStep)
	fmt.Printf("Requirements: %d extracted\n", len(state.Requirements))
	if state.GapAnalysis != nil {
		fmt.Printf("Gap analysis: %d novel, %d already covered\n",
			state.GapAnalysis.TotalNovel, state.GapAnalysis.TotalCovered)
	}
	fmt.Printf("Stories:      %d generated\n", len(state.Stories))

	if len(state.CreatedIssues) > 0 {
		fmt.Printf("Created:\n")
		for _, issue := range state.CreatedIssues {
			fmt.Printf("  %s  %s\n", issue.Key, issue.Summary)
			if issue.URL != "" {
				fmt.Printf("        %s\n", issue.URL)
			}
		}
	}

	if len(state.Errors) > 0 {
		fmt.Printf("Errors:\n")
		for _, stepErr := range state.Errors {
			fmt.Printf("  [%s] %s\n", stepErr.Step, stepErr.Error)
		}
	}

	switch state.ApprovalStatus {
	case models.ApprovalPending:
		if len(state.Stories) > 0 {
			fmt.Printf("\n%d stories are waiting for review:\n", len(state.Stories))
			for i, story := range state.Stories {
				fmt.Printf("  %d. [%s, %dpt] %s\n", i+1, story.Priority, story.StoryPoints, story.Title)
			}
			fmt.Printf("\nApprove and push with:\n")
			fmt.Printf("  backlog-synthesizer resume %s --approve\n", threadID)
			fmt.Printf("Or reject with:\n")
			fmt.Printf("  backlog-synthesizer resume %s --reject --feedback \"...\"\n", threadID)
		}
	case models.ApprovalRejected:
		fmt.Printf("\nStories were rejected; nothing was pushed.\n")
		if state.ApprovalFeedback != "" {
			fmt.Printf("Feedback: %s\n", state.ApprovalFeedback)
		}
	}
}
