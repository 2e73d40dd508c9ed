package session

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
)

// Board holds the stage display of a session: the five stages, the current agent and the memories
// shown for the running turn. The board belongs to one turn at a time. Every mutation names the turn
// it comes from and is ignored, reporting false, when that turn is not the current one.
type Board struct {
	mu       sync.RWMutex
	turn     uint64
	stages   []models.Stage
	current  models.Agent
	memories []models.MemoryEntry
}

// NewBoard creates a Board with every stage idle.
func NewBoard() *Board {
	return &Board{
		stages:  models.IdleStages(),
		current: models.AgentRouter,
	}
}

// Reset hands the board to turn: all stages idle and no memories. A turn older than the current one
// is ignored.
func (b *Board) Reset(turn uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn < b.turn {
		return false
	}
	b.turn = turn
	b.stages = models.IdleStages()
	b.current = models.AgentRouter
	b.memories = nil
	return true
}

// Advance marks stage i processing, every stage before it complete and every stage after it idle.
func (b *Board) Advance(turn uint64, i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn != b.turn || i < 0 || i >= len(b.stages) {
		return false
	}
	for idx := range b.stages {
		switch {
		case idx < i:
			b.stages[idx].Status = models.StatusComplete
		case idx == i:
			b.stages[idx].Status = models.StatusProcessing
		default:
			b.stages[idx].Status = models.StatusIdle
		}
	}
	b.current = b.stages[i].Agent
	return true
}

// CompleteAll marks every stage complete.
func (b *Board) CompleteAll(turn uint64) bool {
	return b.setAll(turn, models.StatusComplete)
}

// Idle marks every stage idle, keeping the memories of the turn.
func (b *Board) Idle(turn uint64) bool {
	return b.setAll(turn, models.StatusIdle)
}

func (b *Board) setAll(turn uint64, status models.StageStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn != b.turn {
		return false
	}
	for idx := range b.stages {
		b.stages[idx].Status = status
	}
	return true
}

// SetMemories replaces the memories shown for turn.
func (b *Board) SetMemories(turn uint64, memories []models.MemoryEntry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn != b.turn {
		return false
	}
	b.memories = slices.Clone(memories)
	return true
}

// Turn returns the turn that currently owns the board.
func (b *Board) Turn() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.turn
}

// Stages returns a copy of the stage array.
func (b *Board) Stages() []models.Stage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.stages)
}

func (b *Board) snapshot() models.SessionState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return models.SessionState{
		Turn:     b.turn,
		Current:  b.current,
		Stages:   slices.Clone(b.stages),
		Memories: slices.Clone(b.memories),
	}
}
