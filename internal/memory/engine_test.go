package memory

import (
	"context"
	"fmt"
	"testing"
	"unicode/utf8"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmblack/backlog-synthesizer/internal/db"
	"github.com/bmblack/backlog-synthesizer/internal/models"
)

type storedItem struct {
	itemType  string
	source    string
	content   string
	metadata  map[string]any
	embedding []float32
}

type fakeStore struct {
	items   map[string]storedItem
	nearest []db.NearestItem
	queries int
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]storedItem{}}
}

func (f *fakeStore) UpsertMemoryItem(_ context.Context, id, itemType, source, content string, metadata map[string]any, embedding []float32) error {
	f.items[id] = storedItem{itemType: itemType, source: source, content: content, metadata: metadata, embedding: embedding}
	return nil
}

func (f *fakeStore) QueryNearest(_ context.Context, _ []float32, _ int, _, _ string) ([]db.NearestItem, error) {
	f.queries++
	return f.nearest, nil
}

func (f *fakeStore) CountByType(_ context.Context) ([]db.TypeCount, error) {
	counts := map[string]int{}
	for _, it := range f.items {
		counts[it.itemType]++
	}
	var out []db.TypeCount
	for t, n := range counts {
		out = append(out, db.TypeCount{ItemType: t, Count: n})
	}
	return out, nil
}

func (f *fakeStore) CountBySource(_ context.Context) ([]db.SourceCount, error) {
	counts := map[string]int{}
	for _, it := range f.items {
		counts[it.source]++
	}
	var out []db.SourceCount
	for s, n := range counts {
		out = append(out, db.SourceCount{Source: s, Count: n})
	}
	return out, nil
}

func (f *fakeStore) ClearMemoryItems(_ context.Context) error {
	f.items = map[string]storedItem{}
	return nil
}

type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder unavailable")
	}
	f.calls++
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func sampleRequirements() []models.Requirement {
	return []models.Requirement{
		{Requirement: "Export reports as CSV", Category: models.CategoryFeatureRequest, PrioritySignal: models.SignalHigh, Impact: "Analysts re-type numbers by hand"},
		{Requirement: "Login times out after five seconds", Category: models.CategoryBugReport, PrioritySignal: models.SignalUrgent},
	}
}

func TestAddRequirementsAssignsStableIDs(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil)

	ids, err := engine.AddRequirements(context.Background(), sampleRequirements(), SourceTranscript, map[string]any{"execution_id": "exec-1"})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	again, err := engine.AddRequirements(context.Background(), sampleRequirements(), SourceTranscript, map[string]any{"execution_id": "exec-2"})
	require.NoError(t, err)
	assert.Equal(t, ids, again, "same content and position must map to the same id")
	assert.Len(t, store.items, 2, "re-adding must not duplicate items")
}

func TestAddRequirementsRendersMissingFieldsEmpty(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil)

	reqs := []models.Requirement{{Requirement: "Add dark mode"}}
	ids, err := engine.AddRequirements(context.Background(), reqs, SourceTranscript, nil)
	require.NoError(t, err)

	item := store.items[ids[0]]
	assert.Equal(t, "Add dark mode\nType: \nPriority: \nImpact: ", item.content)
	assert.Equal(t, TypeRequirement, item.itemType)
	assert.Equal(t, SourceTranscript, item.source)
}

func TestAddRequirementsPropagatesEmbedderFailure(t *testing.T) {
	engine := NewEngine(newFakeStore(), &fakeEmbedder{fail: true}, nil, nil)

	_, err := engine.AddRequirements(context.Background(), sampleRequirements(), SourceTranscript, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed batch")
}

func TestAddEmptyBatchIsNoop(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	engine := NewEngine(store, embedder, nil, nil)

	ids, err := engine.AddRequirements(context.Background(), nil, SourceTranscript, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, embedder.calls)

	ids, err = engine.AddStories(context.Background(), nil, SourceGenerated, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, embedder.calls)
}

func TestAddBacklogIssuesIndexesUnderBacklogSource(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil)

	issues := []models.BacklogIssue{
		{Key: "PROJ-1", Summary: "Export reports as CSV", Description: "Analysts need offline data", IssueType: "Story", Status: "To Do"},
	}
	ids, err := engine.AddBacklogIssues(context.Background(), issues, nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	item := store.items[ids[0]]
	assert.Equal(t, TypeRequirement, item.itemType)
	assert.Equal(t, SourceBacklog, item.source)
	assert.Equal(t, "Export reports as CSV\nAnalysts need offline data", item.content)
	assert.Equal(t, "PROJ-1", item.metadata["issue_key"])
}

func TestQueryConvertsRecordIDs(t *testing.T) {
	store := newFakeStore()
	store.nearest = []db.NearestItem{{
		ID:       surrealmodels.RecordID{Table: "memory_item", ID: "req_jira_0_abc123def456"},
		ItemType: TypeRequirement,
		Source:   SourceBacklog,
		Content:  "Export reports as CSV",
		Distance: 0.12,
	}}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil)

	matches, err := engine.Query(context.Background(), "csv export", 1, TypeRequirement, SourceBacklog)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "req_jira_0_abc123def456", matches[0].ID)
	assert.InDelta(t, 0.12, matches[0].Distance, 1e-9)
}

func TestStatsAndClear(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil)
	ctx := context.Background()

	_, err := engine.AddRequirements(ctx, sampleRequirements(), SourceBacklog, nil)
	require.NoError(t, err)
	_, err = engine.AddStories(ctx, []models.UserStory{{Title: "CSV export", StoryPoints: 3}}, SourceGenerated, nil)
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 2, stats.Requirements)
	assert.Equal(t, 1, stats.Stories)
	assert.Equal(t, 2, stats.Sources[SourceBacklog])
	assert.Equal(t, 1, stats.Sources[SourceGenerated])

	require.NoError(t, engine.Clear(ctx))
	stats, err = engine.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalItems)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short string untouched", "hello", 10, "hello"},
		{"ascii cut", "hello", 3, "hel"},
		{"cut inside rune backs up", "héllo", 2, "h"},
		{"cut on rune boundary", "héllo", 3, "hé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
