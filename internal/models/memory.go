package models

import (
	"errors"
	"time"
)

// MemoryEntry is an illustrative knowledge record shown in the memory panel. It is not produced by
// any real retrieval; relevance and embedding are static display values.
type MemoryEntry struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Relevance float64    `json:"relevance"`
	Timestamp time.Time  `json:"timestamp"`
	Type      MemoryType `json:"type"`
	Embedding []float64  `json:"embedding,omitempty"`
}

// MemoryType categorizes a memory entry.
type MemoryType string

const (
	MemoryTypeConversation MemoryType = "conversation"
	MemoryTypeKnowledge    MemoryType = "knowledge"
	MemoryTypeContext      MemoryType = "context"
)

// MemoryStats summarizes the memory bank.
type MemoryStats struct {
	TotalVectors int       `json:"totalVectors"`
	Dimensions   int       `json:"dimensions"`
	AvgRelevance float64   `json:"avgRelevance"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

var (
	// ErrMemoryNotFound is returned when no memory has the requested id.
	ErrMemoryNotFound = errors.New("memory not found")
	// ErrInvalidMemory is returned when a memory can not be stored as given.
	ErrInvalidMemory = errors.New("invalid memory")
)
