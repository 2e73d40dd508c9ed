package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltMemoryBank stores the illustrative memory entries shown by the memory panel in a BoltDB file.
// Search is a plain substring match, not a similarity search; relevance and embeddings are display
// values only.
type BoltMemoryBank struct {
	db *bolt.DB
}

var memoriesBucket = []byte("memories")

// NewBoltMemoryBank opens the memory bank at path, creating the file with 0600 permissions if it
// doesn't exist. An empty bank is seeded with the default memories.
func NewBoltMemoryBank(path string) (BoltMemoryBank, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltMemoryBank{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(memoriesBucket)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k != nil {
			return nil
		}
		for _, m := range seedMemories(time.Now()) {
			v, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal memory: %w", err)
			}
			if err := b.Put([]byte(m.ID), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltMemoryBank{}, fmt.Errorf("failed to initialize memory bank: %w", err)
	}

	return BoltMemoryBank{db: db}, nil
}

// Close closes the underlying database.
func (b BoltMemoryBank) Close() error {
	return b.db.Close()
}

// Memories returns every stored memory, most relevant first.
func (b BoltMemoryBank) Memories(context.Context) ([]models.MemoryEntry, error) {
	var memories []models.MemoryEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(memoriesBucket)
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var m models.MemoryEntry
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal memory: %w", err)
			}
			memories = append(memories, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(memories, func(a, b models.MemoryEntry) int {
		return cmp.Compare(b.Relevance, a.Relevance)
	})
	return memories, nil
}

// Memory returns the memory with the given id, or models.ErrMemoryNotFound.
func (b BoltMemoryBank) Memory(_ context.Context, id string) (models.MemoryEntry, error) {
	var m models.MemoryEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(memoriesBucket)
		if bk == nil {
			return models.ErrMemoryNotFound
		}
		v := bk.Get([]byte(id))
		if v == nil {
			return models.ErrMemoryNotFound
		}
		return json.Unmarshal(v, &m)
	})
	return m, err
}

// AddMemory stores a new memory. Like the chat store it prefixes the id with a sequence number, and
// returns the stored id.
func (b BoltMemoryBank) AddMemory(_ context.Context, memory models.MemoryEntry) (string, error) {
	if strings.TrimSpace(memory.Content) == "" {
		return "", fmt.Errorf("%w: content is required", models.ErrInvalidMemory)
	}
	if memory.Relevance < 0 || memory.Relevance > 1 {
		return "", fmt.Errorf("%w: relevance %v is out of range [0, 1]", models.ErrInvalidMemory, memory.Relevance)
	}
	if memory.ID == "" {
		memory.ID = uuid.New().String()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now()
	}
	if memory.Type == "" {
		memory.Type = models.MemoryTypeContext
	}

	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(memoriesBucket)
		if bk == nil {
			return errors.New("memories bucket is missing")
		}

		idPrefix, err := bk.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, memory.ID)
		memory.ID = newID

		v, err := json.Marshal(memory)
		if err != nil {
			return fmt.Errorf("failed to marshal memory: %w", err)
		}

		return bk.Put([]byte(newID), v)
	})

	return newID, err
}

// DeleteMemory removes the memory with the given id, or returns models.ErrMemoryNotFound.
func (b BoltMemoryBank) DeleteMemory(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(memoriesBucket)
		if bk == nil || bk.Get([]byte(id)) == nil {
			return models.ErrMemoryNotFound
		}
		return bk.Delete([]byte(id))
	})
}

// Search returns the memories whose content contains query, ignoring case. When nothing matches, or the
// query is blank, every memory is returned.
func (b BoltMemoryBank) Search(ctx context.Context, query string) ([]models.MemoryEntry, error) {
	memories, err := b.Memories(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return memories, nil
	}
	filtered := slices.DeleteFunc(slices.Clone(memories), func(m models.MemoryEntry) bool {
		return !strings.Contains(strings.ToLower(m.Content), q)
	})
	if len(filtered) == 0 {
		return memories, nil
	}
	return filtered, nil
}

// Recall returns up to n search results for query. It implements session.MemoryRecaller.
func (b BoltMemoryBank) Recall(ctx context.Context, query string, n int) ([]models.MemoryEntry, error) {
	memories, err := b.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return memories[:min(n, len(memories))], nil
}

// Stats summarizes the memory bank.
func (b BoltMemoryBank) Stats(ctx context.Context) (models.MemoryStats, error) {
	memories, err := b.Memories(ctx)
	if err != nil {
		return models.MemoryStats{}, err
	}

	var stats models.MemoryStats
	var total float64
	for _, m := range memories {
		total += m.Relevance
		stats.Dimensions = max(stats.Dimensions, len(m.Embedding))
		if m.Timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = m.Timestamp
		}
	}
	stats.TotalVectors = len(memories)
	if len(memories) > 0 {
		stats.AvgRelevance = total / float64(len(memories))
	}
	return stats, nil
}

func seedMemories(now time.Time) []models.MemoryEntry {
	return []models.MemoryEntry{
		{
			ID:        "1",
			Content:   "JARVIS cognitive architecture uses a multi-agent system with specialized processors for routing, retrieval, reasoning, action, and verification.",
			Relevance: 0.95,
			Timestamp: now.Add(-time.Hour),
			Type:      models.MemoryTypeKnowledge,
			Embedding: []float64{0.234, -0.567, 0.891, 0.123, -0.456, 0.789, -0.234, 0.567},
		},
		{
			ID:        "2",
			Content:   "User inquiry about neural network visualization and real-time processing capabilities of the system.",
			Relevance: 0.87,
			Timestamp: now.Add(-2 * time.Hour),
			Type:      models.MemoryTypeConversation,
			Embedding: []float64{0.456, -0.123, 0.789, -0.234, 0.567, -0.891, 0.345, -0.678},
		},
		{
			ID:        "3",
			Content:   "The Retriever Agent specializes in semantic search across vector embeddings to find contextually relevant information.",
			Relevance: 0.82,
			Timestamp: now.Add(-3 * time.Hour),
			Type:      models.MemoryTypeKnowledge,
			Embedding: []float64{-0.345, 0.678, -0.123, 0.456, -0.789, 0.234, -0.567, 0.891},
		},
		{
			ID:        "4",
			Content:   "Context about implementing cognitive routers for intelligent query distribution across specialized AI agents.",
			Relevance: 0.76,
			Timestamp: now.Add(-4 * time.Hour),
			Type:      models.MemoryTypeContext,
			Embedding: []float64{0.567, -0.234, 0.891, -0.456, 0.123, -0.678, 0.345, -0.789},
		},
		{
			ID:        "5",
			Content:   "Discussion on verification mechanisms to ensure response accuracy and coherence in multi-agent AI systems.",
			Relevance: 0.71,
			Timestamp: now.Add(-5 * time.Hour),
			Type:      models.MemoryTypeConversation,
			Embedding: []float64{-0.678, 0.345, -0.789, 0.234, -0.567, 0.891, -0.123, 0.456},
		},
	}
}
