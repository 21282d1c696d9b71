package models

import "testing"

func TestApplyPreservesPriorFields(t *testing.T) {
	state := NewWorkflowState("transcript.txt", map[string]any{"project": "demo"})

	content := "meeting notes"
	state.Apply(Update{InputContent: &content, CurrentStep: "ingest_document"})

	state.Apply(Update{
		Requirements: []Requirement{{Requirement: "login", Category: CategoryFeatureRequest}},
		CurrentStep:  "extract_requirements",
	})

	// A later degraded update must not clear earlier results.
	state.Apply(Update{
		CurrentStep: "fetch_existing_backlog",
		Errors:      []StepError{{Step: "fetch_existing_backlog", Error: "network down"}},
	})

	if state.InputContent != content {
		t.Errorf("input content dropped: %q", state.InputContent)
	}
	if len(state.Requirements) != 1 {
		t.Errorf("requirements dropped: %d", len(state.Requirements))
	}
	if state.CurrentStep != "fetch_existing_backlog" {
		t.Errorf("current_step = %q", state.CurrentStep)
	}
	if state.Context["project"] != "demo" {
		t.Errorf("user context dropped: %v", state.Context)
	}
}

func TestApplyErrorsAppendOnly(t *testing.T) {
	state := NewWorkflowState("t.txt", nil)

	lengths := []int{}
	updates := []Update{
		{CurrentStep: "a", Errors: []StepError{{Step: "a", Error: "x"}}},
		{CurrentStep: "b"},
		{CurrentStep: "c", Errors: []StepError{{Step: "c", Error: "y"}, {Step: "c", Error: "z"}}},
	}
	for _, u := range updates {
		state.Apply(u)
		lengths = append(lengths, len(state.Errors))
	}

	for i := 1; i < len(lengths); i++ {
		if lengths[i] < lengths[i-1] {
			t.Fatalf("error list shrank: %v", lengths)
		}
	}
	if len(state.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d", len(state.Errors))
	}
	if state.Errors[0].Step != "a" || state.Errors[2].Error != "z" {
		t.Errorf("error order lost: %+v", state.Errors)
	}
}

func TestApplyApprovalOverride(t *testing.T) {
	state := NewWorkflowState("t.txt", nil)
	if state.ApprovalStatus != ApprovalPending {
		t.Fatalf("initial approval = %q", state.ApprovalStatus)
	}

	approved := ApprovalApproved
	state.Apply(Update{ApprovalStatus: &approved, CurrentStep: "human_approval"})
	if state.ApprovalStatus != ApprovalApproved {
		t.Errorf("approval = %q", state.ApprovalStatus)
	}

	// An update without the field leaves the status alone.
	state.Apply(Update{CurrentStep: "push_to_issue_tracker"})
	if state.ApprovalStatus != ApprovalApproved {
		t.Errorf("approval reset to %q", state.ApprovalStatus)
	}
}

func TestValidStoryPoints(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 13} {
		if !ValidStoryPoints(n) {
			t.Errorf("ValidStoryPoints(%d) = false", n)
		}
	}
	for _, n := range []int{0, 4, 6, 7, 21, -1} {
		if ValidStoryPoints(n) {
			t.Errorf("ValidStoryPoints(%d) = true", n)
		}
	}
}

func TestWithEpicKeyDoesNotMutate(t *testing.T) {
	story := UserStory{Title: "Dark mode", EpicLink: "UI Polish"}
	resolved := story.WithEpicKey("BS-42")

	if story.EpicLink != "UI Polish" {
		t.Errorf("original story mutated: %q", story.EpicLink)
	}
	if resolved.EpicLink != "BS-42" {
		t.Errorf("resolved epic = %q", resolved.EpicLink)
	}
}
