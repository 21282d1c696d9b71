// Package workflow implements the checkpointed pipeline state machine that
// turns a transcript into pushed backlog issues.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bmblack/backlog-synthesizer/internal/agents"
	"github.com/bmblack/backlog-synthesizer/internal/audit"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/tracker"
)

// Step names, in pipeline order.
const (
	StepStart         = "start"
	StepIngest        = "ingest_document"
	StepFetchContext  = "fetch_context"
	StepExtract       = "extract_requirements"
	StepFetchBacklog  = "fetch_existing_backlog"
	StepDetectGaps    = "detect_gaps"
	StepGenerate      = "generate_stories"
	StepHumanApproval = "human_approval"
	StepPush          = "push_to_issue_tracker"
)

// Extractor turns raw text into structured requirements.
type Extractor interface {
	Extract(ctx context.Context, content string) (agents.ExtractionResult, error)
}

// StoryGenerator turns requirements into user stories.
type StoryGenerator interface {
	Generate(ctx context.Context, reqs []models.Requirement, userCtx map[string]any) (agents.GenerationResult, error)
}

// Tracker is the issue tracker surface the pipeline needs.
type Tracker interface {
	FetchBacklog(ctx context.Context, issueTypes []string, maxResults int) ([]models.BacklogIssue, error)
	Push(ctx context.Context, stories []models.UserStory, opts tracker.PushOptions) (models.PushResult, error)
}

// Index is the similarity index surface the pipeline needs.
type Index interface {
	AddRequirements(ctx context.Context, reqs []models.Requirement, source string, extra map[string]any) ([]string, error)
	AddStories(ctx context.Context, stories []models.UserStory, source string, extra map[string]any) ([]string, error)
	AddBacklogIssues(ctx context.Context, issues []models.BacklogIssue, extra map[string]any) ([]string, error)
}

// GapDetector partitions candidate requirements into novel and covered.
type GapDetector interface {
	Detect(ctx context.Context, candidates []models.Requirement) (models.GapAnalysis, error)
}

// ContextFetcher returns supporting documentation text, best-effort.
type ContextFetcher interface {
	Fetch(ctx context.Context, topics []string, maxPages int) string
}

// Auditor is the audit trail surface the pipeline writes to.
// *audit.Log satisfies it.
type Auditor interface {
	StartExecution(ctx context.Context, executionID, threadID, inputFile string) error
	CompleteExecution(ctx context.Context, executionID string, summary audit.CompletionSummary) error
	LogAgentInvocation(ctx context.Context, executionID string, rec audit.InvocationRecord) error
	LogDecision(ctx context.Context, executionID, decisionType, decision string, details map[string]any) error
	LogStateTransition(ctx context.Context, executionID, fromStep, toStep string, summary map[string]any) error
}

// ExecutionContext carries per-run identity and flags. It travels as an
// explicit parameter; the state's context map stays user data only.
type ExecutionContext struct {
	ID          string
	ThreadID    string
	DryRun      bool
	AutoApprove bool
}

// Config wires the engine's collaborators.
type Config struct {
	Extractor      Extractor
	StoryGenerator StoryGenerator
	Tracker        Tracker
	Index          Index
	Gaps           GapDetector
	Docs           ContextFetcher // optional
	Checkpointer   Checkpointer
	Audit          Auditor
	AutoApprove    bool
	Logger         *slog.Logger
}

// Engine runs the pipeline. Node failures degrade the run; only audit start
// failures and missing checkpoints on resume are fatal.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

type node struct {
	name string
	fn   func(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update
}

func (e *Engine) nodes() []node {
	return []node{
		{StepIngest, e.nodeIngest},
		{StepFetchContext, e.nodeFetchContext},
		{StepExtract, e.nodeExtract},
		{StepFetchBacklog, e.nodeFetchBacklog},
		{StepDetectGaps, e.nodeDetectGaps},
		{StepGenerate, e.nodeGenerate},
		{StepHumanApproval, e.nodeHumanApproval},
		{StepPush, e.nodePush},
	}
}

// RunOptions configures one Run call.
type RunOptions struct {
	ThreadID    string
	ExecutionID string // generated when empty
	UserContext map[string]any
	DryRun      bool
}

// Run executes the pipeline from the start for the given input file.
// The returned state reflects everything that happened, including errors.
func (e *Engine) Run(ctx context.Context, inputPath string, opts RunOptions) (*models.WorkflowState, error) {
	ec := ExecutionContext{
		ID:          opts.ExecutionID,
		ThreadID:    opts.ThreadID,
		DryRun:      opts.DryRun,
		AutoApprove: e.cfg.AutoApprove,
	}
	if ec.ID == "" {
		ec.ID = uuid.NewString()
	}
	if ec.ThreadID == "" {
		ec.ThreadID = uuid.NewString()
	}

	if err := e.cfg.Audit.StartExecution(ctx, ec.ID, ec.ThreadID, inputPath); err != nil {
		return nil, fmt.Errorf("start audit execution: %w", err)
	}

	e.logger.Info("starting run", "execution_id", ec.ID, "thread_id", ec.ThreadID, "input", inputPath)
	state := models.NewWorkflowState(inputPath, opts.UserContext)
	e.runFrom(ctx, ec, state, 0)
	e.complete(ctx, ec, state)
	return state, nil
}

// Resume continues a paused or interrupted run from its checkpoint,
// starting at the node after the one the checkpoint recorded. An approval
// override (with optional feedback) is applied before resuming, which is how
// a human answers the approval gate.
func (e *Engine) Resume(ctx context.Context, threadID string, approval *models.ApprovalStatus, feedback string) (*models.WorkflowState, error) {
	state, err := e.cfg.Checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if approval != nil {
		update := models.Update{ApprovalStatus: approval, CurrentStep: state.CurrentStep}
		if feedback != "" {
			update.ApprovalFeedback = &feedback
		}
		state.Apply(update)
	}

	ec := ExecutionContext{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		AutoApprove: e.cfg.AutoApprove,
	}
	if dry, ok := state.Context["dry_run"].(bool); ok {
		ec.DryRun = dry
	}

	if err := e.cfg.Audit.StartExecution(ctx, ec.ID, threadID, state.InputPath); err != nil {
		return nil, fmt.Errorf("start audit execution: %w", err)
	}

	start := e.nextNodeIndex(state.CurrentStep)
	e.logger.Info("resuming run",
		"execution_id", ec.ID,
		"thread_id", threadID,
		"from_step", state.CurrentStep,
		"approval", string(state.ApprovalStatus))

	e.runFrom(ctx, ec, state, start)
	e.complete(ctx, ec, state)
	return state, nil
}

// GetState returns the checkpointed state for a thread.
func (e *Engine) GetState(ctx context.Context, threadID string) (*models.WorkflowState, error) {
	return e.cfg.Checkpointer.Load(ctx, threadID)
}

// nextNodeIndex maps a recorded step to the index of the node that follows
// it. A fresh "start" state maps to index 0; an unknown or final step maps
// past the end.
func (e *Engine) nextNodeIndex(currentStep string) int {
	if currentStep == "" || currentStep == StepStart {
		return 0
	}
	nodes := e.nodes()
	for i, n := range nodes {
		if n.name == currentStep {
			return i + 1
		}
	}
	return len(nodes)
}

func (e *Engine) runFrom(ctx context.Context, ec ExecutionContext, state *models.WorkflowState, start int) {
	nodes := e.nodes()
	for i := start; i < len(nodes); i++ {
		n := nodes[i]

		// The push edge of the approval branch: only an approved state
		// crosses it, everything else routes to the end.
		if n.name == StepPush && state.ApprovalStatus != models.ApprovalApproved {
			e.logDecision(ctx, ec, "approval_gate", "end", map[string]any{
				"approval_status": string(state.ApprovalStatus),
			})
			e.logger.Info("run paused at approval gate",
				"thread_id", ec.ThreadID,
				"approval_status", string(state.ApprovalStatus))
			return
		}

		from := state.CurrentStep
		e.logger.Info("running step", "step", n.name, "execution_id", ec.ID)

		update := n.fn(ctx, ec, state)
		if update.CurrentStep == "" {
			update.CurrentStep = n.name
		}
		state.Apply(update)

		e.checkpoint(ctx, ec, state)
		if err := e.cfg.Audit.LogStateTransition(ctx, ec.ID, from, n.name, state.Summary()); err != nil {
			e.logger.Warn("audit transition failed", "step", n.name, "error", err)
		}

		if n.name == StepHumanApproval && state.ApprovalStatus == models.ApprovalApproved {
			e.logDecision(ctx, ec, "approval_gate", "push", nil)
		}
	}
}

// checkpoint persists the state, logging failures without failing the run.
func (e *Engine) checkpoint(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) {
	if err := e.cfg.Checkpointer.Save(ctx, ec.ThreadID, state); err != nil {
		e.logger.Warn("checkpoint save failed", "thread_id", ec.ThreadID, "step", state.CurrentStep, "error", err)
	}
}

func (e *Engine) logDecision(ctx context.Context, ec ExecutionContext, decisionType, decision string, details map[string]any) {
	if err := e.cfg.Audit.LogDecision(ctx, ec.ID, decisionType, decision, details); err != nil {
		e.logger.Warn("audit decision failed", "type", decisionType, "error", err)
	}
}

func (e *Engine) complete(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) {
	status := "completed"
	switch {
	case state.ApprovalStatus == models.ApprovalPending:
		status = "awaiting_approval"
	case state.ApprovalStatus == models.ApprovalRejected:
		status = "rejected"
	case len(state.Errors) > 0:
		status = "completed_with_errors"
	}

	novel := 0
	if state.GapAnalysis != nil {
		novel = state.GapAnalysis.TotalNovel
	}

	err := e.cfg.Audit.CompleteExecution(ctx, ec.ID, audit.CompletionSummary{
		Status:            status,
		FinalStep:         state.CurrentStep,
		TotalRequirements: len(state.Requirements),
		NovelRequirements: novel,
		StoriesGenerated:  len(state.Stories),
		IssuesCreated:     len(state.CreatedIssues),
		ErrorCount:        len(state.Errors),
	})
	if err != nil {
		e.logger.Warn("audit completion failed", "execution_id", ec.ID, "error", err)
	}
	e.logger.Info("run finished",
		"execution_id", ec.ID,
		"status", status,
		"requirements", len(state.Requirements),
		"stories", len(state.Stories),
		"issues", len(state.CreatedIssues),
		"errors", len(state.Errors))
}
