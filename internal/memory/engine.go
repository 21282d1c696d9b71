// Package memory implements the vector similarity index and gap detection
// over requirements and user stories.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bmblack/backlog-synthesizer/internal/db"
	"github.com/bmblack/backlog-synthesizer/internal/metrics"
	"github.com/bmblack/backlog-synthesizer/internal/models"
)

// Item type tags stored on index entries.
const (
	TypeRequirement = "requirement"
	TypeStory       = "story"
)

// Well-known source tags.
const (
	SourceTranscript = "transcript"
	SourceBacklog    = "jira"
	SourceGenerated  = "generated"
)

// Store is the persistence surface the engine needs. *db.Client satisfies it.
type Store interface {
	UpsertMemoryItem(ctx context.Context, id, itemType, source, content string, metadata map[string]any, embedding []float32) error
	QueryNearest(ctx context.Context, embedding []float32, k int, itemType, source string) ([]db.NearestItem, error)
	CountByType(ctx context.Context) ([]db.TypeCount, error)
	CountBySource(ctx context.Context) ([]db.SourceCount, error)
	ClearMemoryItems(ctx context.Context) error
}

// Embedder derives embedding vectors from text. *llm.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine stores text items with embeddings and answers nearest-neighbor
// queries filtered by type and source. Backend failures are returned to the
// caller; degrading gracefully is the workflow node's job, not the engine's.
type Engine struct {
	store     Store
	embedder  Embedder
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewEngine creates a similarity index engine. A nil collector gets a
// private one.
func NewEngine(store Store, embedder Embedder, collector *metrics.Collector, logger *slog.Logger) *Engine {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, collector: collector, logger: logger}
}

// Stats summarizes index contents.
type Stats struct {
	TotalItems   int            `json:"total_items"`
	Requirements int            `json:"requirements"`
	Stories      int            `json:"stories"`
	Sources      map[string]int `json:"sources"`
}

// AddRequirements indexes requirements under the given source tag and returns
// the assigned ids. Missing optional fields render as empty strings in the
// embedded text; they never fail the batch.
func (e *Engine) AddRequirements(ctx context.Context, reqs []models.Requirement, source string, extra map[string]any) ([]string, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	docs := make([]string, len(reqs))
	ids := make([]string, len(reqs))
	metas := make([]map[string]any, len(reqs))
	for i, req := range reqs {
		docs[i] = fmt.Sprintf("%s\nType: %s\nPriority: %s\nImpact: %s",
			req.Requirement, req.Category, req.PrioritySignal, req.Impact)
		ids[i] = itemID("req", source, i, req.Requirement)
		meta := map[string]any{
			"requirement_type": string(req.Category),
			"priority":         string(req.PrioritySignal),
			"requirement_text": truncate(req.Requirement, 500),
		}
		for k, v := range extra {
			meta[k] = v
		}
		metas[i] = meta
	}

	if err := e.addBatch(ctx, docs, ids, metas, TypeRequirement, source); err != nil {
		return nil, err
	}
	e.logger.Info("indexed requirements", "count", len(reqs), "source", source)
	return ids, nil
}

// AddStories indexes user stories under the given source tag.
func (e *Engine) AddStories(ctx context.Context, stories []models.UserStory, source string, extra map[string]any) ([]string, error) {
	if len(stories) == 0 {
		return nil, nil
	}

	docs := make([]string, len(stories))
	ids := make([]string, len(stories))
	metas := make([]map[string]any, len(stories))
	for i, story := range stories {
		docs[i] = fmt.Sprintf("%s\n%s\nEpic: %s\nPoints: %d",
			story.Title, story.Description, story.EpicLink, story.StoryPoints)
		ids[i] = itemID("story", source, i, story.Title)
		meta := map[string]any{
			"title":        truncate(story.Title, 200),
			"epic":         story.EpicLink,
			"story_points": story.StoryPoints,
		}
		for k, v := range extra {
			meta[k] = v
		}
		metas[i] = meta
	}

	if err := e.addBatch(ctx, docs, ids, metas, TypeStory, source); err != nil {
		return nil, err
	}
	e.logger.Info("indexed stories", "count", len(stories), "source", source)
	return ids, nil
}

// AddBacklogIssues indexes existing tracker issues as requirement-type items
// under the backlog source, so gap detection can match against them.
func (e *Engine) AddBacklogIssues(ctx context.Context, issues []models.BacklogIssue, extra map[string]any) ([]string, error) {
	if len(issues) == 0 {
		return nil, nil
	}

	docs := make([]string, len(issues))
	ids := make([]string, len(issues))
	metas := make([]map[string]any, len(issues))
	for i, issue := range issues {
		docs[i] = fmt.Sprintf("%s\n%s", issue.Summary, issue.Description)
		ids[i] = itemID("req", SourceBacklog, i, issue.Key+issue.Summary)
		meta := map[string]any{
			"issue_key":  issue.Key,
			"issue_type": issue.IssueType,
			"status":     issue.Status,
			"url":        issue.URL,
		}
		for k, v := range extra {
			meta[k] = v
		}
		metas[i] = meta
	}

	if err := e.addBatch(ctx, docs, ids, metas, TypeRequirement, SourceBacklog); err != nil {
		return nil, err
	}
	e.logger.Info("indexed backlog issues", "count", len(issues))
	return ids, nil
}

func (e *Engine) addBatch(ctx context.Context, docs, ids []string, metas []map[string]any, itemType, source string) error {
	start := time.Now()
	embeddings, err := e.embedder.EmbedBatch(ctx, docs)
	e.collector.RecordTiming(metrics.OpEmbedding, time.Since(start))
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	for i := range docs {
		if err := e.store.UpsertMemoryItem(ctx, ids[i], itemType, source, docs[i], metas[i], embeddings[i]); err != nil {
			return fmt.Errorf("store item %s: %w", ids[i], err)
		}
	}
	return nil
}

// Query embeds text and returns the k nearest stored items of the given type,
// optionally restricted to one source. Distance is cosine; lower means more
// similar, and similarity = 1 - distance by convention.
func (e *Engine) Query(ctx context.Context, text string, k int, itemType, source string) ([]models.MatchedItem, error) {
	embedStart := time.Now()
	embedding, err := e.embedder.Embed(ctx, text)
	e.collector.RecordTiming(metrics.OpEmbedding, time.Since(embedStart))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	searchStart := time.Now()
	nearest, err := e.store.QueryNearest(ctx, embedding, k, itemType, source)
	e.collector.RecordTiming(metrics.OpIndexSearch, time.Since(searchStart))
	if err != nil {
		return nil, err
	}

	matches := make([]models.MatchedItem, 0, len(nearest))
	for _, n := range nearest {
		id, err := db.RecordIDString(n.ID)
		if err != nil {
			return nil, err
		}
		matches = append(matches, models.MatchedItem{
			ID:       id,
			Document: n.Content,
			Metadata: n.Metadata,
			Distance: n.Distance,
		})
	}
	return matches, nil
}

// Stats returns total item count with type and source breakdowns.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	byType, err := e.store.CountByType(ctx)
	if err != nil {
		return Stats{}, err
	}
	bySource, err := e.store.CountBySource(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Sources: map[string]int{}}
	for _, tc := range byType {
		stats.TotalItems += tc.Count
		switch tc.ItemType {
		case TypeRequirement:
			stats.Requirements = tc.Count
		case TypeStory:
			stats.Stories = tc.Count
		}
	}
	for _, sc := range bySource {
		stats.Sources[sc.Source] = sc.Count
	}
	return stats, nil
}

// Clear removes all stored items. The index remains usable afterwards.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.ClearMemoryItems(ctx); err != nil {
		return err
	}
	e.logger.Info("cleared similarity index")
	return nil
}

// itemID derives a stable identifier from source, position and a truncated
// content hash. Truncation is fine: exact duplicate detection is not required,
// and the hash keeps distinct content from landing on the same id.
func itemID(prefix, source string, index int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s_%s_%d_%s", prefix, source, index, hex.EncodeToString(sum[:])[:12])
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
