package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmblack/backlog-synthesizer/internal/models"
)

type fakeSearcher struct {
	byText  map[string][]models.MatchedItem
	queries int
}

func (f *fakeSearcher) Query(_ context.Context, text string, _ int, _, _ string) ([]models.MatchedItem, error) {
	f.queries++
	return f.byText[text], nil
}

func TestDetectEmptyCandidatesSkipsIndex(t *testing.T) {
	searcher := &fakeSearcher{}
	detector := NewGapDetector(searcher, 0.7, nil)

	analysis, err := detector.Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, analysis.TotalNovel)
	assert.Zero(t, analysis.TotalCovered)
	assert.Zero(t, searcher.queries, "empty input must not touch the index")
}

func TestDetectEmptyBacklogAllNovel(t *testing.T) {
	searcher := &fakeSearcher{byText: map[string][]models.MatchedItem{}}
	for _, threshold := range []float64{0.01, 0.7, 0.99} {
		detector := NewGapDetector(searcher, threshold, nil)
		analysis, err := detector.Detect(context.Background(), []models.Requirement{
			{Requirement: "Export reports as CSV"},
			{Requirement: "Add dark mode"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, analysis.TotalNovel)
		assert.Zero(t, analysis.TotalCovered)
	}
}

func TestDetectExactMatchSimilarityOne(t *testing.T) {
	searcher := &fakeSearcher{byText: map[string][]models.MatchedItem{
		"Export reports as CSV": {{ID: "req_jira_0_abc", Document: "Export reports as CSV", Distance: 0}},
	}}
	detector := NewGapDetector(searcher, 0.7, nil)

	analysis, err := detector.Detect(context.Background(), []models.Requirement{{Requirement: "Export reports as CSV"}})
	require.NoError(t, err)
	require.Len(t, analysis.Covered, 1)
	assert.Equal(t, 1.0, analysis.Covered[0].Similarity)
	assert.Equal(t, "req_jira_0_abc", analysis.Covered[0].CoveredBy.ID)
}

func TestDetectThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		covered  bool
	}{
		{"just under threshold is covered", 0.699, true},
		{"exactly at threshold is novel", 0.7, false},
		{"above threshold is novel", 0.9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{byText: map[string][]models.MatchedItem{
				"Export reports as CSV": {{ID: "req_jira_0_abc", Distance: tt.distance}},
			}}
			detector := NewGapDetector(searcher, 0.7, nil)

			analysis, err := detector.Detect(context.Background(), []models.Requirement{{Requirement: "Export reports as CSV"}})
			require.NoError(t, err)
			if tt.covered {
				require.Len(t, analysis.Covered, 1)
				assert.InDelta(t, 1-tt.distance, analysis.Covered[0].Similarity, 1e-9)
			} else {
				require.Len(t, analysis.Novel, 1)
				assert.Empty(t, analysis.Covered)
			}
		})
	}
}

func TestDetectMixedCandidates(t *testing.T) {
	searcher := &fakeSearcher{byText: map[string][]models.MatchedItem{
		"Export reports as CSV": {{ID: "req_jira_0_abc", Distance: 0.2}},
		"Add dark mode":         {{ID: "req_jira_1_def", Distance: 0.85}},
	}}
	detector := NewGapDetector(searcher, 0.7, nil)

	analysis, err := detector.Detect(context.Background(), []models.Requirement{
		{Requirement: "Export reports as CSV"},
		{Requirement: "Add dark mode"},
		{Requirement: "Support SSO login"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalCovered)
	assert.Equal(t, 2, analysis.TotalNovel)
	assert.Equal(t, "Add dark mode", analysis.Novel[0].Requirement)
	assert.Equal(t, "Support SSO login", analysis.Novel[1].Requirement)
}

func TestDetectRepeatedRunsAgree(t *testing.T) {
	searcher := &fakeSearcher{byText: map[string][]models.MatchedItem{
		"Export reports as CSV": {{ID: "req_jira_0_abc", Distance: 0.2}},
		"Add dark mode":         {{ID: "req_jira_1_def", Distance: 0.85}},
	}}
	detector := NewGapDetector(searcher, 0.7, nil)
	candidates := []models.Requirement{
		{Requirement: "Export reports as CSV"},
		{Requirement: "Add dark mode"},
		{Requirement: "Support SSO login"},
	}

	first, err := detector.Detect(context.Background(), candidates)
	require.NoError(t, err)
	second, err := detector.Detect(context.Background(), candidates)
	require.NoError(t, err)

	// An unchanged index must yield identical partitions.
	assert.Equal(t, first.Novel, second.Novel)
	assert.Equal(t, first.Covered, second.Covered)
	assert.Equal(t, first.TotalNovel, second.TotalNovel)
	assert.Equal(t, first.TotalCovered, second.TotalCovered)
}

func TestNewGapDetectorDefaultThreshold(t *testing.T) {
	detector := NewGapDetector(&fakeSearcher{}, 0, nil)
	assert.Equal(t, DefaultGapThreshold, detector.threshold)
}
