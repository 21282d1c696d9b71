package models

import "strings"

// StoryPriority is the P0-P4 priority assigned to a generated story.
type StoryPriority string

const (
	PriorityP0 StoryPriority = "P0"
	PriorityP1 StoryPriority = "P1"
	PriorityP2 StoryPriority = "P2"
	PriorityP3 StoryPriority = "P3"
	PriorityP4 StoryPriority = "P4"
)

// Valid reports whether p is one of P0-P4.
func (p StoryPriority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

// fibonacciPoints is the set of allowed story point estimates.
var fibonacciPoints = map[int]bool{1: true, 2: true, 3: true, 5: true, 8: true, 13: true}

// ValidStoryPoints reports whether n is in the allowed Fibonacci set {1,2,3,5,8,13}.
func ValidStoryPoints(n int) bool {
	return fibonacciPoints[n]
}

// Acceptance criteria cardinality bounds for a well-formed story.
const (
	MinAcceptanceCriteria = 3
	MaxAcceptanceCriteria = 10
)

// UserStory is an estimable unit of work derived from one or more requirements.
// EpicLink initially holds a human-readable epic name; push resolution produces
// a new record with the tracker's generated epic key instead.
type UserStory struct {
	Title              string        `json:"title"`
	UserStory          string        `json:"user_story"` // "As a X, I want Y, so that Z"
	Description        string        `json:"description"`
	AcceptanceCriteria []string      `json:"acceptance_criteria"`
	StoryPoints        int           `json:"story_points"`
	Priority           StoryPriority `json:"priority"`
	Labels             []string      `json:"labels"`
	EpicLink           string        `json:"epic_link,omitempty"`
	SourceRequirements []string      `json:"source_requirements"`
	TechnicalNotes     string        `json:"technical_notes,omitempty"`
}

// WithEpicKey returns a copy of s with EpicLink replaced by key.
func (s UserStory) WithEpicKey(key string) UserStory {
	s.EpicLink = key
	return s
}

// InvestScore grades a story against the INVEST criteria. Each criterion
// contributes up to 2 points, 12 total.
type InvestScore struct {
	Independent int `json:"independent"`
	Negotiable  int `json:"negotiable"`
	Valuable    int `json:"valuable"`
	Estimable   int `json:"estimable"`
	Small       int `json:"small"`
	Testable    int `json:"testable"`
	Total       int `json:"total"`
}

// measurableKeywords mark acceptance criteria as concretely testable.
var measurableKeywords = []string{"<", ">", "seconds", "exactly", "contains", "displays"}

// InvestScore computes the story's quality score.
func (s UserStory) InvestScore() InvestScore {
	var score InvestScore

	if !strings.Contains(strings.ToLower(s.TechnicalNotes), "depends") {
		score.Independent = 2
	}
	if len(s.Description) > 100 {
		score.Negotiable = 2
	}
	if strings.Contains(strings.ToLower(s.UserStory), "so that") {
		score.Valuable = 2
	}
	if len(s.AcceptanceCriteria) >= MinAcceptanceCriteria {
		score.Estimable = 2
	}
	switch {
	case s.StoryPoints <= 8:
		score.Small = 2
	case s.StoryPoints <= 13:
		score.Small = 1
	}
	for _, ac := range s.AcceptanceCriteria {
		lower := strings.ToLower(ac)
		for _, kw := range measurableKeywords {
			if strings.Contains(lower, kw) {
				score.Testable = 2
			}
		}
	}

	score.Total = score.Independent + score.Negotiable + score.Valuable +
		score.Estimable + score.Small + score.Testable
	return score
}
