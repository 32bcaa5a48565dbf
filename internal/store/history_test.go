package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_SaveAndList(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Save(ctx, Record{
			ID:          fmt.Sprintf("id-%d", i),
			App:         "catsvsdogs",
			Label:       "Dog",
			Probability: 0.9,
			Confidence:  0.9,
			Tier:        "high",
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, h.Save(ctx, Record{ID: "other", App: "food", Label: "Pizza", CreatedAt: now}))

	records, err := h.List(ctx, "catsvsdogs", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id-4", records[0].ID)
	assert.Equal(t, "id-2", records[2].ID)
	assert.Equal(t, 0.9, records[0].Confidence)
	assert.True(t, records[0].CreatedAt.Equal(now.Add(4*time.Minute)))

	food, err := h.List(ctx, "food", 10)
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, "Pizza", food[0].Label)
}

func TestHistory_EmptyList(t *testing.T) {
	h := openTemp(t)
	records, err := h.List(context.Background(), "sentiment", 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestHistory_DuplicateID(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()
	require.NoError(t, h.Save(ctx, Record{ID: "same", App: "a", Label: "x", CreatedAt: time.Now()}))
	assert.Error(t, h.Save(ctx, Record{ID: "same", App: "a", Label: "x", CreatedAt: time.Now()}))
}
