package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmblack/backlog-synthesizer/internal/models"
)

// extractJSON pulls the JSON payload out of a model response, tolerating
// markdown code fences and prose around the array.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '[' {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}
	if end > start {
		return s[start : end+1]
	}
	return s
}

func parseRequirements(content string) ([]models.Requirement, error) {
	payload := extractJSON(content)
	var reqs []models.Requirement
	if err := json.Unmarshal([]byte(payload), &reqs); err != nil {
		return nil, fmt.Errorf("parse requirements response: %w", err)
	}

	out := reqs[:0]
	for _, r := range reqs {
		if strings.TrimSpace(r.Requirement) == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func parseStories(content string) ([]models.UserStory, error) {
	payload := extractJSON(content)
	var stories []models.UserStory
	if err := json.Unmarshal([]byte(payload), &stories); err != nil {
		return nil, fmt.Errorf("parse stories response: %w", err)
	}

	out := stories[:0]
	for _, s := range stories {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		s = normalizeStory(s)
		if len(s.AcceptanceCriteria) < models.MinAcceptanceCriteria {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// normalizeStory coerces out-of-band estimates and priorities to valid
// values instead of rejecting the story. Blank acceptance criteria are
// removed and the list is capped at the upper cardinality bound; a story
// left with fewer than the minimum is dropped by the caller.
func normalizeStory(s models.UserStory) models.UserStory {
	if !models.ValidStoryPoints(s.StoryPoints) {
		s.StoryPoints = nearestStoryPoints(s.StoryPoints)
	}
	if !s.Priority.Valid() {
		s.Priority = models.PriorityP2
	}
	criteria := s.AcceptanceCriteria[:0]
	for _, ac := range s.AcceptanceCriteria {
		if strings.TrimSpace(ac) == "" {
			continue
		}
		criteria = append(criteria, ac)
	}
	if len(criteria) > models.MaxAcceptanceCriteria {
		criteria = criteria[:models.MaxAcceptanceCriteria]
	}
	s.AcceptanceCriteria = criteria
	return s
}

func nearestStoryPoints(n int) int {
	valid := []int{1, 2, 3, 5, 8, 13}
	best := valid[0]
	for _, v := range valid {
		if abs(n-v) < abs(n-best) {
			best = v
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
