package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "chat-test.db"))
	require.NoError(t, err)
	return store
}

func TestSaveAssignsIDAndTimestamp(t *testing.T) {
	store := setupTestStore(t)

	saved, err := store.Save(context.Background(), &Message{
		RoomID:   "general",
		Username: "alice",
		Content:  "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestSaveKeepsProvidedID(t *testing.T) {
	store := setupTestStore(t)

	stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
	saved, err := store.Save(context.Background(), &Message{
		ID:        "fixed-id",
		Username:  "alice",
		Content:   "hello",
		CreatedAt: stamp,
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", saved.ID)
	assert.Equal(t, stamp.Unix(), saved.CreatedAt.Unix())
}

func TestRecentReturnsChronologicalOrder(t *testing.T) {
	store := setupTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		_, err := store.Save(context.Background(), &Message{
			Username:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	messages, err := store.Recent(context.Background(), 3, "")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// The newest three, oldest first.
	assert.Equal(t, "message 2", messages[0].Content)
	assert.Equal(t, "message 3", messages[1].Content)
	assert.Equal(t, "message 4", messages[2].Content)
}

func TestRecentFiltersByRoom(t *testing.T) {
	store := setupTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i, roomID := range []string{"general", "random", "general"} {
		_, err := store.Save(context.Background(), &Message{
			RoomID:    roomID,
			Username:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	messages, err := store.Recent(context.Background(), 10, "general")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "message 0", messages[0].Content)
	assert.Equal(t, "message 2", messages[1].Content)
}

func TestRecentEmptyStore(t *testing.T) {
	store := setupTestStore(t)

	messages, err := store.Recent(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRecentDefaultsLimit(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Save(context.Background(), &Message{Username: "alice", Content: "hello"})
	require.NoError(t, err)

	messages, err := store.Recent(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}
