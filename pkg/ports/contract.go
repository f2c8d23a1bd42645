package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractCheckpoint(sessionID string) *domain.Checkpoint {
	call := domain.ActionCall{ID: "call-1", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/x"}}
	return &domain.Checkpoint{
		SessionID: sessionID,
		State: domain.ConversationState{
			History: []domain.Message{
				domain.HumanMessage("remove the temp file"),
				domain.AssistantMessage("msg-1", "", call),
			},
			ProtectedActionNames: []string{"deleteFile"},
		},
		PendingReview: &domain.ReviewRequest{Prompt: domain.ReviewPrompt, ActionCall: call},
		Next:          domain.NodeReview,
		Status:        domain.StatusSuspended,
		Version:       3,
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore implementation
// adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		cp := contractCheckpoint(sessionID)

		err := store.Save(ctx, sessionID, cp)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, cp.SessionID, loaded.SessionID)
		assert.Equal(t, cp.Next, loaded.Next)
		assert.Equal(t, cp.Status, loaded.Status)
		assert.Equal(t, cp.Version, loaded.Version)
		assert.Equal(t, cp.State.ProtectedActionNames, loaded.State.ProtectedActionNames)
		require.Len(t, loaded.State.History, 2)
		assert.Equal(t, "msg-1", loaded.State.History[1].ID)
		require.NotNil(t, loaded.PendingReview)
		assert.Equal(t, "call-1", loaded.PendingReview.ActionCall.ID)
		// JSON backed stores return strings unchanged; numbers may become float64.
		assert.Equal(t, "/tmp/x", loaded.State.History[1].ActionCalls[0].Arguments["path"])
	})

	t.Run("Overwrite", func(t *testing.T) {
		cp := contractCheckpoint(sessionID)
		cp.PendingReview = nil
		cp.Next = domain.NodeEnd
		cp.Status = domain.StatusStopped
		cp.Version = 4
		require.NoError(t, store.Save(ctx, sessionID, cp))
		require.NoError(t, store.Save(ctx, sessionID, cp))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, domain.NodeEnd, loaded.Next)
		assert.Equal(t, int64(4), loaded.Version)
		assert.Nil(t, loaded.PendingReview)
	})

	t.Run("Isolation", func(t *testing.T) {
		cp := contractCheckpoint(sessionID)
		require.NoError(t, store.Save(ctx, sessionID, cp))
		cp.State.History[0].Text = "mutated after save"

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "remove the temp file", loaded.State.History[0].Text)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, contractCheckpoint(sessionID))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, id1, contractCheckpoint(id1)))
		require.NoError(t, store.Save(ctx, id2, contractCheckpoint(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
