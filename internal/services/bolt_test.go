package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/MegaGrindStone/jarvis-web/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryBank(t *testing.T) services.BoltMemoryBank {
	t.Helper()
	bank, err := services.NewBoltMemoryBank(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bank.Close() })
	return bank
}

func TestBoltMemoryBankSeed(t *testing.T) {
	bank := newMemoryBank(t)

	memories, err := bank.Memories(context.Background())
	require.NoError(t, err)
	require.Len(t, memories, 5)
	for i := 1; i < len(memories); i++ {
		assert.GreaterOrEqual(t, memories[i-1].Relevance, memories[i].Relevance)
	}
	assert.Equal(t, "1", memories[0].ID)
	assert.Len(t, memories[0].Embedding, 8)
}

func TestBoltMemoryBankReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.db")
	bank, err := services.NewBoltMemoryBank(path)
	require.NoError(t, err)
	require.NoError(t, bank.DeleteMemory(context.Background(), "1"))
	require.NoError(t, bank.Close())

	bank, err = services.NewBoltMemoryBank(path)
	require.NoError(t, err)
	defer bank.Close()

	memories, err := bank.Memories(context.Background())
	require.NoError(t, err)
	assert.Len(t, memories, 4)
}

func TestBoltMemoryBankSearch(t *testing.T) {
	bank := newMemoryBank(t)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{
			name:    "Case insensitive match",
			query:   "RETRIEVER",
			wantIDs: []string{"3"},
		},
		{
			name:    "Several matches ordered by relevance",
			query:   "multi-agent",
			wantIDs: []string{"1", "5"},
		},
		{
			name:    "No match falls back to everything",
			query:   "quantum pastry",
			wantIDs: []string{"1", "2", "3", "4", "5"},
		},
		{
			name:    "Blank query returns everything",
			query:   "  ",
			wantIDs: []string{"1", "2", "3", "4", "5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memories, err := bank.Search(context.Background(), tt.query)
			require.NoError(t, err)

			var ids []string
			for _, m := range memories {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestBoltMemoryBankRecall(t *testing.T) {
	bank := newMemoryBank(t)

	memories, err := bank.Recall(context.Background(), "Hello", 3)
	require.NoError(t, err)
	require.Len(t, memories, 3)
	assert.Equal(t, "1", memories[0].ID)

	memories, err = bank.Recall(context.Background(), "verification", 3)
	require.NoError(t, err)
	require.Len(t, memories, 2)
}

func TestBoltMemoryBankCRUD(t *testing.T) {
	ctx := context.Background()
	bank := newMemoryBank(t)

	id, err := bank.AddMemory(ctx, models.MemoryEntry{Content: "Stark prefers espresso.", Relevance: 0.5})
	require.NoError(t, err)

	m, err := bank.Memory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, models.MemoryTypeContext, m.Type)
	assert.False(t, m.Timestamp.IsZero())

	_, err = bank.AddMemory(ctx, models.MemoryEntry{Content: "x", Relevance: 1.5})
	assert.ErrorIs(t, err, models.ErrInvalidMemory)
	_, err = bank.AddMemory(ctx, models.MemoryEntry{Content: " "})
	assert.ErrorIs(t, err, models.ErrInvalidMemory)

	require.NoError(t, bank.DeleteMemory(ctx, id))
	_, err = bank.Memory(ctx, id)
	assert.ErrorIs(t, err, models.ErrMemoryNotFound)
	assert.ErrorIs(t, bank.DeleteMemory(ctx, id), models.ErrMemoryNotFound)
}

func TestBoltMemoryBankStats(t *testing.T) {
	bank := newMemoryBank(t)

	stats, err := bank.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalVectors)
	assert.Equal(t, 8, stats.Dimensions)
	assert.InDelta(t, 0.822, stats.AvgRelevance, 1e-9)
	assert.False(t, stats.LastUpdated.IsZero())
}
