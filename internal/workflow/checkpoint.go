package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bmblack/backlog-synthesizer/internal/db"
	"github.com/bmblack/backlog-synthesizer/internal/models"
)

// ErrNoCheckpoint is returned when a thread has no saved state.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// Checkpointer persists the full workflow state per thread, latest write
// wins. Saving after every node is what makes a run resumable.
type Checkpointer interface {
	Save(ctx context.Context, threadID string, state *models.WorkflowState) error
	Load(ctx context.Context, threadID string) (*models.WorkflowState, error)
}

// DBCheckpointer stores checkpoints as JSON in SurrealDB.
type DBCheckpointer struct {
	client *db.Client
}

// NewDBCheckpointer creates a SurrealDB-backed checkpointer.
func NewDBCheckpointer(client *db.Client) *DBCheckpointer {
	return &DBCheckpointer{client: client}
}

func (c *DBCheckpointer) Save(ctx context.Context, threadID string, state *models.WorkflowState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return c.client.SaveCheckpoint(ctx, threadID, string(encoded))
}

func (c *DBCheckpointer) Load(ctx context.Context, threadID string) (*models.WorkflowState, error) {
	raw, err := c.client.LoadCheckpoint(ctx, threadID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
		}
		return nil, err
	}

	var state models.WorkflowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

// MemoryCheckpointer keeps checkpoints in process memory. Used in tests and
// for one-shot runs that do not need resumability across processes.
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryCheckpointer creates an in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{states: map[string][]byte{}}
}

func (c *MemoryCheckpointer) Save(_ context.Context, threadID string, state *models.WorkflowState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	c.mu.Lock()
	c.states[threadID] = encoded
	c.mu.Unlock()
	return nil
}

func (c *MemoryCheckpointer) Load(_ context.Context, threadID string) (*models.WorkflowState, error) {
	c.mu.RLock()
	encoded, ok := c.states[threadID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}

	var state models.WorkflowState
	if err := json.Unmarshal(encoded, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}
