package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmblack/backlog-synthesizer/internal/agents"
	"github.com/bmblack/backlog-synthesizer/internal/audit"
	"github.com/bmblack/backlog-synthesizer/internal/llm"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/tracker"
)

type fakeExtractor struct {
	result agents.ExtractionResult
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (agents.ExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return agents.ExtractionResult{}, f.err
	}
	return f.result, nil
}

type fakeWriter struct {
	result agents.GenerationResult
	err    error
	calls  int
	reqs   []models.Requirement
}

func (f *fakeWriter) Generate(_ context.Context, reqs []models.Requirement, _ map[string]any) (agents.GenerationResult, error) {
	f.calls++
	f.reqs = reqs
	if f.err != nil {
		return agents.GenerationResult{}, f.err
	}
	return f.result, nil
}

type fakeTracker struct {
	backlog    []models.BacklogIssue
	fetchErr   error
	pushResult models.PushResult
	pushErr    error
	fetchCalls int
	pushCalls  int
	pushedOpts tracker.PushOptions
	pushed     []models.UserStory
}

func (f *fakeTracker) FetchBacklog(_ context.Context, _ []string, _ int) ([]models.BacklogIssue, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.backlog, nil
}

func (f *fakeTracker) Push(_ context.Context, stories []models.UserStory, opts tracker.PushOptions) (models.PushResult, error) {
	f.pushCalls++
	f.pushed = stories
	f.pushedOpts = opts
	if f.pushErr != nil {
		return models.PushResult{}, f.pushErr
	}
	return f.pushResult, nil
}

type fakeIndex struct {
	reqCalls     int
	storyCalls   int
	backlogCalls int
	err          error
}

func (f *fakeIndex) AddRequirements(_ context.Context, reqs []models.Requirement, _ string, _ map[string]any) ([]string, error) {
	f.reqCalls++
	return make([]string, len(reqs)), f.err
}

func (f *fakeIndex) AddStories(_ context.Context, stories []models.UserStory, _ string, _ map[string]any) ([]string, error) {
	f.storyCalls++
	return make([]string, len(stories)), f.err
}

func (f *fakeIndex) AddBacklogIssues(_ context.Context, issues []models.BacklogIssue, _ map[string]any) ([]string, error) {
	f.backlogCalls++
	return make([]string, len(issues)), f.err
}

type fakeGaps struct {
	analysis   models.GapAnalysis
	err        error
	calls      int
	candidates []models.Requirement
}

func (f *fakeGaps) Detect(_ context.Context, candidates []models.Requirement) (models.GapAnalysis, error) {
	f.calls++
	f.candidates = candidates
	if f.err != nil {
		return models.GapAnalysis{}, f.err
	}
	return f.analysis, nil
}

type auditEvent struct {
	kind   string
	detail string
}

type fakeAudit struct {
	startErr    error
	starts      int
	completions []audit.CompletionSummary
	events      []auditEvent
}

func (f *fakeAudit) StartExecution(_ context.Context, _, _, _ string) error {
	f.starts++
	return f.startErr
}

func (f *fakeAudit) CompleteExecution(_ context.Context, _ string, summary audit.CompletionSummary) error {
	f.completions = append(f.completions, summary)
	return nil
}

func (f *fakeAudit) LogAgentInvocation(_ context.Context, _ string, rec audit.InvocationRecord) error {
	f.events = append(f.events, auditEvent{kind: "invocation", detail: rec.AgentType})
	return nil
}

func (f *fakeAudit) LogDecision(_ context.Context, _, decisionType, decision string, _ map[string]any) error {
	f.events = append(f.events, auditEvent{kind: "decision", detail: decisionType + ":" + decision})
	return nil
}

func (f *fakeAudit) LogStateTransition(_ context.Context, _, _, toStep string, _ map[string]any) error {
	f.events = append(f.events, auditEvent{kind: "transition", detail: toStep})
	return nil
}

func (f *fakeAudit) transitions() []string {
	var steps []string
	for _, ev := range f.events {
		if ev.kind == "transition" {
			steps = append(steps, ev.detail)
		}
	}
	return steps
}

func (f *fakeAudit) hasDecision(detail string) bool {
	for _, ev := range f.events {
		if ev.kind == "decision" && ev.detail == detail {
			return true
		}
	}
	return false
}

type testHarness struct {
	engine       *Engine
	extractor    *fakeExtractor
	writer       *fakeWriter
	tracker      *fakeTracker
	index        *fakeIndex
	gaps         *fakeGaps
	audit        *fakeAudit
	checkpointer *MemoryCheckpointer
}

func sampleRequirements() []models.Requirement {
	return []models.Requirement{
		{
			Requirement:    "Export reports as CSV",
			Category:       models.CategoryFeatureRequest,
			PrioritySignal: models.SignalHigh,
		},
		{
			Requirement:    "Dark mode for the dashboard",
			Category:       models.CategoryEnhancement,
			PrioritySignal: models.SignalMedium,
		},
	}
}

func sampleStories() []models.UserStory {
	return []models.UserStory{
		{
			Title:       "CSV export for reports",
			UserStory:   "As an analyst, I want CSV export, so that I can share data.",
			StoryPoints: 3,
			Priority:    models.PriorityP1,
		},
	}
}

func newHarness(autoApprove bool) *testHarness {
	reqs := sampleRequirements()
	h := &testHarness{
		extractor: &fakeExtractor{result: agents.ExtractionResult{
			Requirements: reqs,
			Tokens:       llm.TokenUsage{Input: 400, Output: 120},
			Meta:         map[string]any{"model": "test-model"},
		}},
		writer: &fakeWriter{result: agents.GenerationResult{
			Stories: sampleStories(),
			Tokens:  llm.TokenUsage{Input: 250, Output: 90},
			Meta:    map[string]any{"model": "test-model"},
		}},
		tracker: &fakeTracker{
			backlog: []models.BacklogIssue{{Key: "PROJ-1", Summary: "Existing export work"}},
			pushResult: models.PushResult{
				Issues:   []models.CreatedIssue{{Key: "PROJ-42", Summary: "CSV export for reports"}},
				Metadata: map[string]any{"epics": map[string]string{}},
			},
		},
		index: &fakeIndex{},
		gaps: &fakeGaps{analysis: models.GapAnalysis{
			Novel:        reqs[:1],
			Covered:      []models.CoveredRequirement{{Requirement: reqs[1], Similarity: 0.9}},
			TotalNovel:   1,
			TotalCovered: 1,
		}},
		audit:        &fakeAudit{},
		checkpointer: NewMemoryCheckpointer(),
	}
	h.engine = NewEngine(Config{
		Extractor:      h.extractor,
		StoryGenerator: h.writer,
		Tracker:        h.tracker,
		Index:          h.index,
		Gaps:           h.gaps,
		Checkpointer:   h.checkpointer,
		Audit:          h.audit,
		AutoApprove:    autoApprove,
	})
	return h
}

func writeTranscript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.txt")
	content := "We keep exporting reports by hand.\n\nAnd the dashboard is blinding at night."
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunHappyPathAutoApprove(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, StepPush, state.CurrentStep)
	assert.Equal(t, models.ApprovalApproved, state.ApprovalStatus)
	assert.Len(t, state.Requirements, 2)
	assert.Len(t, state.Stories, 1)
	require.Len(t, state.CreatedIssues, 1)
	assert.Equal(t, "PROJ-42", state.CreatedIssues[0].Key)
	assert.Empty(t, state.Errors)

	assert.Equal(t, 1, h.extractor.calls)
	assert.Equal(t, 1, h.writer.calls)
	assert.Equal(t, 1, h.tracker.fetchCalls)
	assert.Equal(t, 1, h.tracker.pushCalls)
	assert.Equal(t, 1, h.index.reqCalls)
	assert.Equal(t, 1, h.index.storyCalls)
	assert.Equal(t, 1, h.index.backlogCalls)

	// Generation only sees the novel partition.
	require.Len(t, h.writer.reqs, 1)
	assert.Equal(t, "Export reports as CSV", h.writer.reqs[0].Requirement)

	require.Len(t, h.audit.completions, 1)
	summary := h.audit.completions[0]
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, StepPush, summary.FinalStep)
	assert.Equal(t, 2, summary.TotalRequirements)
	assert.Equal(t, 1, summary.NovelRequirements)
	assert.Equal(t, 1, summary.StoriesGenerated)
	assert.Equal(t, 1, summary.IssuesCreated)
	assert.True(t, h.audit.hasDecision("approval:auto_approved"))
	assert.True(t, h.audit.hasDecision("approval_gate:push"))

	// The final checkpoint matches the returned state.
	saved, err := h.checkpointer.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state.CurrentStep, saved.CurrentStep)
	assert.Equal(t, state.ApprovalStatus, saved.ApprovalStatus)
	assert.Len(t, saved.CreatedIssues, len(state.CreatedIssues))
}

func TestRunPausesAtApprovalGate(t *testing.T) {
	h := newHarness(false)
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, StepHumanApproval, state.CurrentStep)
	assert.Equal(t, models.ApprovalPending, state.ApprovalStatus)
	assert.Zero(t, h.tracker.pushCalls)
	assert.Empty(t, state.CreatedIssues)

	require.Len(t, h.audit.completions, 1)
	assert.Equal(t, "awaiting_approval", h.audit.completions[0].Status)
	assert.True(t, h.audit.hasDecision("approval:awaiting_human"))
	assert.True(t, h.audit.hasDecision("approval_gate:end"))

	// A checkpoint exists at the gate, ready for resume.
	saved, err := h.checkpointer.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StepHumanApproval, saved.CurrentStep)
	assert.Len(t, saved.Stories, 1)
}

func TestResumeApprovedRunsPushOnly(t *testing.T) {
	h := newHarness(false)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)
	require.Zero(t, h.tracker.pushCalls)

	approved := models.ApprovalApproved
	state, err := h.engine.Resume(ctx, "t1", &approved, "looks right")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalApproved, state.ApprovalStatus)
	assert.Equal(t, "looks right", state.ApprovalFeedback)
	assert.Equal(t, StepPush, state.CurrentStep)
	require.Len(t, state.CreatedIssues, 1)

	// Only the push node ran on resume.
	assert.Equal(t, 1, h.extractor.calls)
	assert.Equal(t, 1, h.writer.calls)
	assert.Equal(t, 1, h.tracker.fetchCalls)
	assert.Equal(t, 1, h.tracker.pushCalls)
	assert.Equal(t, 2, h.audit.starts)
	assert.Equal(t, "completed", h.audit.completions[1].Status)
}

func TestResumeRejectedEndsWithoutPush(t *testing.T) {
	h := newHarness(false)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	rejected := models.ApprovalRejected
	state, err := h.engine.Resume(ctx, "t1", &rejected, "not this sprint")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalRejected, state.ApprovalStatus)
	assert.Equal(t, "not this sprint", state.ApprovalFeedback)
	assert.Zero(t, h.tracker.pushCalls)
	assert.Empty(t, state.CreatedIssues)
	assert.Equal(t, "rejected", h.audit.completions[1].Status)
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	h := newHarness(false)

	_, err := h.engine.Resume(context.Background(), "missing", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	assert.Zero(t, h.audit.starts)
}

func TestExtractionFailureDegradesRun(t *testing.T) {
	h := newHarness(true)
	h.extractor.err = errors.New("model unavailable")
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	require.NotEmpty(t, state.Errors)
	assert.Equal(t, StepExtract, state.Errors[0].Step)
	assert.Contains(t, state.Errors[0].Error, "model unavailable")

	// The run keeps going past the failed node.
	assert.Equal(t, 1, h.tracker.fetchCalls)
	assert.Equal(t, StepPush, state.CurrentStep)
	assert.Equal(t, "completed_with_errors", h.audit.completions[0].Status)
}

func TestIngestFailureRecordsError(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	state, err := h.engine.Run(ctx, filepath.Join(t.TempDir(), "nope.txt"), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	require.NotEmpty(t, state.Errors)
	assert.Equal(t, StepIngest, state.Errors[0].Step)
	assert.Empty(t, state.InputContent)
	// Extraction cannot run without content but the pipeline still finishes.
	assert.Equal(t, 0, h.extractor.calls)
	assert.Equal(t, "completed_with_errors", h.audit.completions[0].Status)
}

func TestGapDetectionFailureTreatsAllAsNovel(t *testing.T) {
	h := newHarness(true)
	h.gaps.err = errors.New("index offline")
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	require.NotNil(t, state.GapAnalysis)
	assert.Equal(t, 2, state.GapAnalysis.TotalNovel)
	assert.Len(t, h.writer.reqs, 2)

	var found bool
	for _, stepErr := range state.Errors {
		if stepErr.Step == StepDetectGaps {
			found = true
		}
	}
	assert.True(t, found, "expected a detect_gaps error, got %v", state.Errors)
}

func TestIndexFailuresAreNonFatal(t *testing.T) {
	h := newHarness(true)
	h.index.err = errors.New("db write refused")
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	assert.Len(t, state.Requirements, 2)
	assert.Len(t, state.Stories, 1)
	assert.Len(t, state.CreatedIssues, 1)
	assert.GreaterOrEqual(t, len(state.Errors), 3)
}

func TestCheckpointSavedAfterEveryNode(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	want := []string{
		StepIngest, StepFetchContext, StepExtract, StepFetchBacklog,
		StepDetectGaps, StepGenerate, StepHumanApproval, StepPush,
	}
	assert.Equal(t, want, h.audit.transitions())
}

func TestDryRunReachesTracker(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1", DryRun: true})
	require.NoError(t, err)

	require.Equal(t, 1, h.tracker.pushCalls)
	assert.True(t, h.tracker.pushedOpts.DryRun)
}

func TestResumeRestoresDryRunFromContext(t *testing.T) {
	h := newHarness(false)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{
		ThreadID:    "t1",
		DryRun:      true,
		UserContext: map[string]any{"dry_run": true},
	})
	require.NoError(t, err)

	approved := models.ApprovalApproved
	_, err = h.engine.Resume(ctx, "t1", &approved, "")
	require.NoError(t, err)

	require.Equal(t, 1, h.tracker.pushCalls)
	assert.True(t, h.tracker.pushedOpts.DryRun)
}

func TestAuditStartFailureIsFatal(t *testing.T) {
	h := newHarness(true)
	h.audit.startErr = errors.New("audit db locked")

	_, err := h.engine.Run(context.Background(), writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start audit execution")
	assert.Zero(t, h.extractor.calls)
}

func TestGenerateSkippedWhenFullyCovered(t *testing.T) {
	h := newHarness(true)
	h.gaps.analysis = models.GapAnalysis{
		Novel:        []models.Requirement{},
		Covered:      []models.CoveredRequirement{},
		TotalCovered: 2,
	}
	h.tracker.pushResult = models.PushResult{}
	ctx := context.Background()

	state, err := h.engine.Run(ctx, writeTranscript(t), RunOptions{ThreadID: "t1"})
	require.NoError(t, err)

	assert.Zero(t, h.writer.calls)
	assert.Empty(t, state.Stories)
	assert.Empty(t, state.CreatedIssues)
}

func TestNextNodeIndex(t *testing.T) {
	h := newHarness(true)

	tests := []struct {
		step string
		want int
	}{
		{"", 0},
		{StepStart, 0},
		{StepIngest, 1},
		{StepHumanApproval, 7},
		{StepPush, 8},
		{"unknown_step", 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.step), func(t *testing.T) {
			assert.Equal(t, tt.want, h.engine.nextNodeIndex(tt.step))
		})
	}
}
