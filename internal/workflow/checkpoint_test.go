package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmblack/backlog-synthesizer/internal/models"
)

func TestMemoryCheckpointerRoundTrip(t *testing.T) {
	cp := NewMemoryCheckpointer()
	ctx := context.Background()

	state := models.NewWorkflowState("notes.txt", map[string]any{"project": "billing"})
	state.Apply(models.Update{
		Requirements: sampleRequirements(),
		CurrentStep:  StepExtract,
	})
	require.NoError(t, cp.Save(ctx, "t1", state))

	loaded, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", loaded.InputPath)
	assert.Equal(t, StepExtract, loaded.CurrentStep)
	assert.Len(t, loaded.Requirements, 2)
	assert.Equal(t, "billing", loaded.Context["project"])
}

func TestMemoryCheckpointerLatestWriteWins(t *testing.T) {
	cp := NewMemoryCheckpointer()
	ctx := context.Background()

	first := models.NewWorkflowState("a.txt", nil)
	require.NoError(t, cp.Save(ctx, "t1", first))

	second := models.NewWorkflowState("a.txt", nil)
	second.Apply(models.Update{CurrentStep: StepGenerate})
	require.NoError(t, cp.Save(ctx, "t1", second))

	loaded, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StepGenerate, loaded.CurrentStep)
}

func TestMemoryCheckpointerLoadReturnsCopy(t *testing.T) {
	cp := NewMemoryCheckpointer()
	ctx := context.Background()

	state := models.NewWorkflowState("a.txt", nil)
	require.NoError(t, cp.Save(ctx, "t1", state))

	loaded, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	loaded.Apply(models.Update{CurrentStep: StepPush})

	again, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "start", again.CurrentStep)
}

func TestMemoryCheckpointerMissingThread(t *testing.T) {
	cp := NewMemoryCheckpointer()

	_, err := cp.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}
