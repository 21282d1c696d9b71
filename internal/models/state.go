package models

// ApprovalStatus is the human approval gate state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// StepError records one node-level failure. The error list is append-only.
type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// WorkflowState is the single record threaded through every pipeline node.
// Nodes never mutate it directly; they return an Update that Apply merges in.
type WorkflowState struct {
	InputPath    string `json:"input_path,omitempty"`
	InputContent string `json:"input_content,omitempty"`

	Requirements   []Requirement  `json:"requirements,omitempty"`
	ExtractionMeta map[string]any `json:"extraction_metadata,omitempty"`

	Stories        []UserStory    `json:"stories,omitempty"`
	GenerationMeta map[string]any `json:"generation_metadata,omitempty"`

	Backlog     []BacklogIssue `json:"backlog,omitempty"`
	GapAnalysis *GapAnalysis   `json:"gap_analysis,omitempty"`

	CreatedIssues []CreatedIssue `json:"created_issues,omitempty"`
	PushMeta      map[string]any `json:"push_metadata,omitempty"`

	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	ApprovalFeedback string         `json:"approval_feedback,omitempty"`

	CurrentStep string      `json:"current_step"`
	Errors      []StepError `json:"errors,omitempty"`

	// Context carries user-supplied, schema-less data (project name, sprint
	// label, dry-run flag). Execution identity travels in an explicit
	// parameter, never in here.
	Context map[string]any `json:"context,omitempty"`
}

// NewWorkflowState creates the initial state for one pipeline run.
func NewWorkflowState(inputPath string, userContext map[string]any) *WorkflowState {
	ctx := map[string]any{}
	for k, v := range userContext {
		ctx[k] = v
	}
	return &WorkflowState{
		InputPath:      inputPath,
		ApprovalStatus: ApprovalPending,
		CurrentStep:    "start",
		Context:        ctx,
	}
}

// Update is a partial state change returned by a node. Zero-value fields leave
// the prior state untouched; Errors append; Context keys merge.
type Update struct {
	InputContent     *string
	Requirements     []Requirement
	ExtractionMeta   map[string]any
	Stories          []UserStory
	GenerationMeta   map[string]any
	Backlog          []BacklogIssue
	GapAnalysis      *GapAnalysis
	CreatedIssues    []CreatedIssue
	PushMeta         map[string]any
	ApprovalStatus   *ApprovalStatus
	ApprovalFeedback *string
	CurrentStep      string
	Errors           []StepError
	Context          map[string]any
}

// Apply merges u into s additively. Fields already set on s survive unless the
// update carries a replacement; the error list only ever grows.
func (s *WorkflowState) Apply(u Update) {
	if u.InputContent != nil {
		s.InputContent = *u.InputContent
	}
	if u.Requirements != nil {
		s.Requirements = u.Requirements
	}
	if u.ExtractionMeta != nil {
		s.ExtractionMeta = u.ExtractionMeta
	}
	if u.Stories != nil {
		s.Stories = u.Stories
	}
	if u.GenerationMeta != nil {
		s.GenerationMeta = u.GenerationMeta
	}
	if u.Backlog != nil {
		s.Backlog = u.Backlog
	}
	if u.GapAnalysis != nil {
		s.GapAnalysis = u.GapAnalysis
	}
	if u.CreatedIssues != nil {
		s.CreatedIssues = u.CreatedIssues
	}
	if u.PushMeta != nil {
		s.PushMeta = u.PushMeta
	}
	if u.ApprovalStatus != nil {
		s.ApprovalStatus = *u.ApprovalStatus
	}
	if u.ApprovalFeedback != nil {
		s.ApprovalFeedback = *u.ApprovalFeedback
	}
	if u.CurrentStep != "" {
		s.CurrentStep = u.CurrentStep
	}
	s.Errors = append(s.Errors, u.Errors...)
	if len(u.Context) > 0 {
		if s.Context == nil {
			s.Context = map[string]any{}
		}
		for k, v := range u.Context {
			s.Context[k] = v
		}
	}
}

// Summary returns the compact state view recorded on audit transitions.
func (s *WorkflowState) Summary() map[string]any {
	return map[string]any{
		"current_step":      s.CurrentStep,
		"requirement_count": len(s.Requirements),
		"story_count":       len(s.Stories),
		"backlog_count":     len(s.Backlog),
		"issue_count":       len(s.CreatedIssues),
		"approval_status":   string(s.ApprovalStatus),
		"error_count":       len(s.Errors),
	}
}
