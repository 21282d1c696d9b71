package models

// BacklogIssue is a normalized view of an existing issue fetched from the tracker.
type BacklogIssue struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Created     string `json:"created"`
	Updated     string `json:"updated"`
	StoryPoints *int   `json:"story_points,omitempty"`
	EpicLink    string `json:"epic_link,omitempty"`
	URL         string `json:"url"`
}

// CreatedIssue records an issue the push step created in the tracker.
type CreatedIssue struct {
	Key     string `json:"key"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// PushError records a per-story failure during push.
type PushError struct {
	StoryIndex int    `json:"story_index"`
	StoryTitle string `json:"story_title"`
	Error      string `json:"error"`
}

// PushResult is the outcome of pushing stories to the tracker.
type PushResult struct {
	Issues      []CreatedIssue `json:"issues"`
	FailedCount int            `json:"failed_count"`
	Errors      []PushError    `json:"errors"`
	Metadata    map[string]any `json:"metadata"`
}
