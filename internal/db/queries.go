// Package db query functions for the similarity index and checkpoint store.
package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// MemoryItem is a stored similarity-index entry.
type MemoryItem struct {
	ID       surrealmodels.RecordID `json:"id"`
	ItemType string                 `json:"item_type"`
	Source   string                 `json:"source"`
	Content  string                 `json:"content"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// NearestItem is a MemoryItem with its cosine distance to the query vector.
type NearestItem struct {
	ID       surrealmodels.RecordID `json:"id"`
	ItemType string                 `json:"item_type"`
	Source   string                 `json:"source"`
	Content  string                 `json:"content"`
	Metadata map[string]any         `json:"metadata,omitempty"`
	Distance float64                `json:"distance"`
}

// RecordIDString extracts the string ID from a SurrealDB RecordID.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// UpsertMemoryItem stores one index entry under a caller-derived stable id.
// Upsert keeps repeated indexing of the same content idempotent; distinct
// content cannot land on the same id because the id embeds a content hash.
func (c *Client) UpsertMemoryItem(
	ctx context.Context,
	id string,
	itemType string,
	source string,
	content string,
	metadata map[string]any,
	embedding []float32,
) error {
	sql := `
		UPSERT type::record("memory_item", $id) SET
			item_type = $item_type,
			source = $source,
			content = $content,
			metadata = $metadata,
			embedding = $embedding
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":        id,
		"item_type": itemType,
		"source":    source,
		"content":   content,
		"metadata":  metadata,
		"embedding": embedding,
	})
	if err != nil {
		return fmt.Errorf("upsert memory item: %w", err)
	}
	return nil
}

// QueryNearest returns the k nearest stored items for the query embedding,
// filtered by type and (optionally) source. Results are ordered by cosine
// distance ascending; lower means more similar.
func (c *Client) QueryNearest(
	ctx context.Context,
	embedding []float32,
	k int,
	itemType string,
	source string,
) ([]NearestItem, error) {
	sourceClause := ""
	if source != "" {
		sourceClause = "AND source = $source"
	}

	// HNSW knn operator needs literal k/ef; ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT id, item_type, source, content, metadata,
		       vector::distance::knn() AS distance
		FROM memory_item
		WHERE embedding <|%d,40|> $emb AND item_type = $item_type %s
		ORDER BY distance
	`, k, sourceClause)

	vars := map[string]any{
		"emb":       embedding,
		"item_type": itemType,
	}
	if source != "" {
		vars["source"] = source
	}

	results, err := surrealdb.Query[[]NearestItem](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("query nearest: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []NearestItem{}, nil
}

// TypeCount is an item type with its count.
type TypeCount struct {
	ItemType string `json:"item_type"`
	Count    int    `json:"count"`
}

// SourceCount is a source tag with its count.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// CountByType returns stored item counts grouped by item type.
func (c *Client) CountByType(ctx context.Context) ([]TypeCount, error) {
	results, err := surrealdb.Query[[]TypeCount](ctx, c.db, `
		SELECT item_type, count() AS count FROM memory_item GROUP BY item_type
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []TypeCount{}, nil
	}
	return (*results)[0].Result, nil
}

// CountBySource returns stored item counts grouped by source tag.
func (c *Client) CountBySource(ctx context.Context) ([]SourceCount, error) {
	results, err := surrealdb.Query[[]SourceCount](ctx, c.db, `
		SELECT source, count() AS count FROM memory_item GROUP BY source
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []SourceCount{}, nil
	}
	return (*results)[0].Result, nil
}

// ClearMemoryItems deletes all index entries. The table and its indexes
// remain usable afterwards.
func (c *Client) ClearMemoryItems(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE memory_item", nil); err != nil {
		return fmt.Errorf("clear memory items: %w", err)
	}
	return nil
}

// SaveCheckpoint stores the serialized workflow state for a thread,
// overwriting any previous snapshot (latest-wins).
func (c *Client) SaveCheckpoint(ctx context.Context, threadID, stateJSON string) error {
	sql := `
		UPSERT type::record("checkpoint", $thread_id) SET
			state = $state,
			updated = time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"thread_id": threadID,
		"state":     stateJSON,
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

type checkpointRow struct {
	State string `json:"state"`
}

// LoadCheckpoint returns the latest serialized state for a thread, or
// ErrNotFound if no checkpoint exists.
func (c *Client) LoadCheckpoint(ctx context.Context, threadID string) (string, error) {
	results, err := surrealdb.Query[[]checkpointRow](ctx, c.db, `
		SELECT state FROM type::record("checkpoint", $thread_id)
	`, map[string]any{"thread_id": threadID})
	if err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
	}
	return (*results)[0].Result[0].State, nil
}
