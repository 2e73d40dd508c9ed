// Package pipeline animates the five display stages of a turn on a fixed schedule. The animation is
// not driven by the response it decorates: a run always takes MinDelay..MaxDelay per stage.
package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
)

// Target receives stage transitions for a turn. Both methods report false when the turn is no longer
// the one the target is showing.
type Target interface {
	// Advance marks stage i processing, the stages before it complete and the ones after it idle.
	Advance(turn uint64, i int) bool
	// CompleteAll marks every stage complete.
	CompleteAll(turn uint64) bool
}

// Simulator walks a Target through the stage sequence.
type Simulator struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	// Jitter returns a value in [0, n). It defaults to math/rand/v2.Int64N.
	Jitter func(n int64) int64
}

// ErrSuperseded is returned by Run when a newer turn took over the target.
var ErrSuperseded = errors.New("pipeline: turn superseded")

const (
	defaultMinDelay = 400 * time.Millisecond
	defaultMaxDelay = 700 * time.Millisecond
)

// NewSimulator creates a Simulator with the standard 400–700ms per stage delay.
func NewSimulator() Simulator {
	return Simulator{
		MinDelay: defaultMinDelay,
		MaxDelay: defaultMaxDelay,
	}
}

// Run advances target through every stage of the given turn, sleeping a randomized delay after each
// transition, then marks all stages complete. It stops with ErrSuperseded as soon as the target rejects
// the turn, and with the context error when ctx is done.
func (s Simulator) Run(ctx context.Context, turn uint64, target Target) error {
	for i := range models.StageCount {
		if !target.Advance(turn, i) {
			return ErrSuperseded
		}

		t := time.NewTimer(s.delay())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if !target.CompleteAll(turn) {
		return ErrSuperseded
	}
	return nil
}

func (s Simulator) delay() time.Duration {
	spread := int64(s.MaxDelay - s.MinDelay)
	if spread <= 0 {
		return s.MinDelay
	}
	jitter := s.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return s.MinDelay + time.Duration(jitter(spread+1))
}
