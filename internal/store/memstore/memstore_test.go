package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
)

func TestUpsertAndGetEntity(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.UpsertEntity(ctx, "actors", nil, map[string]any{"name": "ema"})
	require.NoError(t, err)

	doc, err := s.GetEntity(ctx, "actors", id)
	require.NoError(t, err)
	assert.Equal(t, "ema", doc["name"])
	assert.Equal(t, id, doc["id"])
}

func TestGetEntityNotFound(t *testing.T) {
	s := New()
	_, err := s.GetEntity(context.Background(), "actors", 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertEntityMergesFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.UpsertEntity(ctx, "actors", 1, map[string]any{"name": "ema", "status": "idle"})
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, "actors", id, map[string]any{"status": "running"})
	require.NoError(t, err)

	doc, err := s.GetEntity(ctx, "actors", id)
	require.NoError(t, err)
	assert.Equal(t, "ema", doc["name"])
	assert.Equal(t, "running", doc["status"])
}

func TestDeleteEntity(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.UpsertEntity(ctx, "actors", nil, map[string]any{"name": "ema"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntity(ctx, "actors", id))

	_, err = s.GetEntity(ctx, "actors", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListCollectionFilterSortLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.UpsertEntity(ctx, "conversation_messages", nil, map[string]any{
			"conversationId": 1,
			"seq":            i,
		})
		require.NoError(t, err)
	}
	_, err := s.UpsertEntity(ctx, "conversation_messages", nil, map[string]any{
		"conversationId": 2,
		"seq":            0,
	})
	require.NoError(t, err)

	docs, err := s.ListCollection(ctx, "conversation_messages", store.ListFilter{
		Match: map[string]any{"conversationId": 1},
		Sort:  []store.Sort{{Field: "seq", Order: -1}},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 4, docs[0]["seq"])
	assert.Equal(t, 3, docs[1]["seq"])
}

func TestSnapshotAndRestore(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.UpsertEntity(ctx, "actors", nil, map[string]any{"name": "ema"})
	require.NoError(t, err)

	snap, err := s.SnapshotAll(ctx, []string{"actors", "users"})
	require.NoError(t, err)
	require.Len(t, snap.Collections["actors"], 1)
	require.Empty(t, snap.Collections["users"])

	dest := New()
	require.NoError(t, dest.RestoreAll(ctx, snap))
	docs, err := dest.ListCollection(ctx, "actors", store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ema", docs[0]["name"])
}

func TestPingAlwaysSucceeds(t *testing.T) {
	s := New()
	assert.NoError(t, s.Ping(context.Background()))
}
