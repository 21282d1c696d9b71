package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bmblack/backlog-synthesizer/internal/audit"
	"github.com/bmblack/backlog-synthesizer/internal/integrations"
	"github.com/bmblack/backlog-synthesizer/internal/memory"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/tracker"
)

// Every node follows the same contract: collaborator failures become an
// appended step error plus a degraded update, never an aborted run.

func (e *Engine) nodeIngest(_ context.Context, _ ExecutionContext, state *models.WorkflowState) models.Update {
	content, err := os.ReadFile(state.InputPath)
	if err != nil {
		return stepFailed(StepIngest, fmt.Errorf("read input: %w", err))
	}

	text := string(content)
	e.logger.Info("ingested document", "path", state.InputPath, "bytes", len(text))
	return models.Update{InputContent: &text}
}

func (e *Engine) nodeFetchContext(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	if e.cfg.Docs == nil || state.InputContent == "" {
		return models.Update{}
	}

	topics := integrations.ExtractTopics(state.InputContent, 5)
	blob := e.cfg.Docs.Fetch(ctx, topics, 3)
	if blob == "" {
		return models.Update{}
	}

	e.logDecision(ctx, ec, "context_fetch", "documentation attached", map[string]any{
		"topics": topics,
		"chars":  len(blob),
	})
	return models.Update{Context: map[string]any{"documentation_context": blob}}
}

func (e *Engine) nodeExtract(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	if state.InputContent == "" {
		return stepFailed(StepExtract, fmt.Errorf("no input content to extract from"))
	}

	start := time.Now()
	result, err := e.cfg.Extractor.Extract(ctx, state.InputContent)
	e.logInvocation(ctx, ec, audit.InvocationRecord{
		AgentType:    "requirements_analyst",
		StepName:     StepExtract,
		Model:        metaModel(result.Meta),
		Duration:     time.Since(start),
		InputTokens:  result.Tokens.Input,
		OutputTokens: result.Tokens.Output,
		Input:        map[string]any{"chars": len(state.InputContent)},
		Output:       map[string]any{"requirements": len(result.Requirements)},
		Err:          err,
	})
	if err != nil {
		return stepFailed(StepExtract, err)
	}

	update := models.Update{
		Requirements:   result.Requirements,
		ExtractionMeta: result.Meta,
	}
	if update.Requirements == nil {
		update.Requirements = []models.Requirement{}
	}

	if _, err := e.cfg.Index.AddRequirements(ctx, result.Requirements, memory.SourceTranscript,
		map[string]any{"execution_id": ec.ID}); err != nil {
		update.Errors = append(update.Errors, models.StepError{
			Step:  StepExtract,
			Error: fmt.Sprintf("index requirements: %v", err),
		})
	}
	return update
}

func (e *Engine) nodeFetchBacklog(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	issues, err := e.cfg.Tracker.FetchBacklog(ctx, nil, 100)
	if err != nil {
		return stepFailed(StepFetchBacklog, err)
	}

	update := models.Update{Backlog: issues}
	if update.Backlog == nil {
		update.Backlog = []models.BacklogIssue{}
	}

	if _, err := e.cfg.Index.AddBacklogIssues(ctx, issues,
		map[string]any{"execution_id": ec.ID}); err != nil {
		update.Errors = append(update.Errors, models.StepError{
			Step:  StepFetchBacklog,
			Error: fmt.Sprintf("index backlog: %v", err),
		})
	}
	return update
}

func (e *Engine) nodeDetectGaps(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	if len(state.Requirements) == 0 {
		analysis := models.GapAnalysis{Novel: []models.Requirement{}, Covered: []models.CoveredRequirement{}}
		e.logDecision(ctx, ec, "gap_analysis", "no candidates", nil)
		return models.Update{GapAnalysis: &analysis}
	}

	analysis, err := e.cfg.Gaps.Detect(ctx, state.Requirements)
	if err != nil {
		// Without a working index every candidate counts as novel; losing
		// dedup beats losing the run.
		fallback := models.GapAnalysis{
			Novel:      state.Requirements,
			Covered:    []models.CoveredRequirement{},
			TotalNovel: len(state.Requirements),
		}
		update := stepFailed(StepDetectGaps, err)
		update.GapAnalysis = &fallback
		return update
	}

	e.logDecision(ctx, ec, "gap_analysis",
		fmt.Sprintf("%d novel, %d covered", analysis.TotalNovel, analysis.TotalCovered),
		map[string]any{"novel": analysis.TotalNovel, "covered": analysis.TotalCovered})
	return models.Update{GapAnalysis: &analysis}
}

func (e *Engine) nodeGenerate(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	candidates := state.Requirements
	if state.GapAnalysis != nil {
		candidates = state.GapAnalysis.Novel
	}
	if len(candidates) == 0 {
		e.logDecision(ctx, ec, "story_generation", "skipped, no novel requirements", nil)
		return models.Update{Stories: []models.UserStory{}}
	}

	start := time.Now()
	result, err := e.cfg.StoryGenerator.Generate(ctx, candidates, state.Context)
	e.logInvocation(ctx, ec, audit.InvocationRecord{
		AgentType:    "story_writer",
		StepName:     StepGenerate,
		Model:        metaModel(result.Meta),
		Duration:     time.Since(start),
		InputTokens:  result.Tokens.Input,
		OutputTokens: result.Tokens.Output,
		Input:        map[string]any{"requirements": len(candidates)},
		Output:       map[string]any{"stories": len(result.Stories)},
		Err:          err,
	})
	if err != nil {
		return stepFailed(StepGenerate, err)
	}

	update := models.Update{
		Stories:        result.Stories,
		GenerationMeta: result.Meta,
	}
	if update.Stories == nil {
		update.Stories = []models.UserStory{}
	}

	if _, err := e.cfg.Index.AddStories(ctx, result.Stories, memory.SourceGenerated,
		map[string]any{"execution_id": ec.ID}); err != nil {
		update.Errors = append(update.Errors, models.StepError{
			Step:  StepGenerate,
			Error: fmt.Sprintf("index stories: %v", err),
		})
	}
	return update
}

func (e *Engine) nodeHumanApproval(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	if state.ApprovalStatus != models.ApprovalPending {
		return models.Update{}
	}

	if ec.AutoApprove {
		approved := models.ApprovalApproved
		e.logDecision(ctx, ec, "approval", "auto_approved", map[string]any{"stories": len(state.Stories)})
		return models.Update{ApprovalStatus: &approved}
	}

	e.logDecision(ctx, ec, "approval", "awaiting_human", map[string]any{"stories": len(state.Stories)})
	return models.Update{}
}

func (e *Engine) nodePush(ctx context.Context, ec ExecutionContext, state *models.WorkflowState) models.Update {
	result, err := e.cfg.Tracker.Push(ctx, state.Stories, tracker.PushOptions{DryRun: ec.DryRun})
	if err != nil {
		return stepFailed(StepPush, err)
	}

	meta := map[string]any{"failed_count": result.FailedCount}
	for k, v := range result.Metadata {
		meta[k] = v
	}
	if len(result.Errors) > 0 {
		meta["push_errors"] = result.Errors
	}

	e.logDecision(ctx, ec, "push",
		fmt.Sprintf("%d created, %d failed", len(result.Issues), result.FailedCount),
		map[string]any{"dry_run": ec.DryRun})

	update := models.Update{
		CreatedIssues: result.Issues,
		PushMeta:      meta,
	}
	if update.CreatedIssues == nil {
		update.CreatedIssues = []models.CreatedIssue{}
	}
	return update
}

func (e *Engine) logInvocation(ctx context.Context, ec ExecutionContext, rec audit.InvocationRecord) {
	if err := e.cfg.Audit.LogAgentInvocation(ctx, ec.ID, rec); err != nil {
		e.logger.Warn("audit invocation failed", "agent", rec.AgentType, "error", err)
	}
}

func stepFailed(step string, err error) models.Update {
	return models.Update{
		Errors: []models.StepError{{Step: step, Error: err.Error()}},
	}
}

func metaModel(meta map[string]any) string {
	model, _ := meta["model"].(string)
	return model
}
