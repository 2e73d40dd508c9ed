// Package session keeps the state of a chat session and drives a turn: the user message, the streamed
// assistant reply and the stage animation that runs next to it.
package session

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/MegaGrindStone/jarvis-web/internal/pipeline"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// LLM streams an assistant reply for a conversation. Errors that prevent the response from being opened
// are returned directly; errors while reading it are yielded by the iterator.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) (iter.Seq2[string, error], error)
}

// MemoryRecaller returns up to n memories to show for a prompt.
type MemoryRecaller interface {
	Recall(ctx context.Context, query string, n int) ([]models.MemoryEntry, error)
}

// Observer is notified after every change of the session. Calls may come from several goroutines.
type Observer interface {
	MessageUpdated(msg models.Message)
	StateUpdated(state models.SessionState)
}

// Options tunes a Controller. The zero value is ready to use.
type Options struct {
	// Simulator animates the stages, pipeline.NewSimulator() when nil.
	Simulator *pipeline.Simulator
	// Memories fills the memory panel while the retriever stage runs. Optional.
	Memories MemoryRecaller
	// Observer receives updates. Optional.
	Observer Observer
	// GraceDelay is how long finished stages stay visible before going idle. Defaults to one second.
	GraceDelay time.Duration
	Logger     *slog.Logger
}

// Controller runs the turns of one chat session. The transcript and the stage board are separate
// state containers; the only link between them is the turn id that Send assigns, so a late update
// from an older turn never overwrites the board of a newer one.
type Controller struct {
	id         string
	transcript *Transcript
	board      *Board

	llm        LLM
	sim        pipeline.Simulator
	memories   MemoryRecaller
	observer   Observer
	graceDelay time.Duration

	turns atomic.Uint64

	mu          sync.Mutex
	loading     bool
	loadingTurn uint64

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	apologyPrefix   = "I apologize, but I encountered an error processing your request. "
	defaultRecall   = 3
	defaultGraceDur = time.Second
)

// NewController creates a Controller for the session id that gets its replies from llm.
func NewController(id string, llm LLM, opts Options) *Controller {
	sim := pipeline.NewSimulator()
	if opts.Simulator != nil {
		sim = *opts.Simulator
	}
	grace := opts.GraceDelay
	if grace <= 0 {
		grace = defaultGraceDur
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		id:         id,
		transcript: &Transcript{},
		board:      NewBoard(),
		llm:        llm,
		sim:        sim,
		memories:   opts.Memories,
		observer:   opts.Observer,
		graceDelay: grace,
		logger:     logger.With(slog.String("module", "session"), slog.String("sessionID", id)),
	}
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Messages returns the transcript in order.
func (c *Controller) Messages() []models.Message {
	return c.transcript.Messages()
}

// State returns the current stage display of the session.
func (c *Controller) State() models.SessionState {
	st := c.board.snapshot()

	c.mu.Lock()
	st.Loading = c.loading
	c.mu.Unlock()

	return st
}

// Send runs one turn for text and returns once the reply is complete and the stage animation finished.
// Blank input returns ErrEmptyMessage without touching the session. Failures of the reply are not
// returned: they end up in the transcript as an assistant apology, so the session stays usable for
// the next message.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	c.transcript.Append(userMsg)
	history := c.transcript.Messages()
	c.notifyMessage(userMsg)

	turn := c.turns.Add(1)
	c.board.Reset(turn)
	c.mu.Lock()
	c.loading = true
	c.loadingTurn = turn
	c.mu.Unlock()
	c.notifyState()

	logger := c.logger.With(slog.Uint64("turn", turn))
	logger.Debug("Turn started", slog.Int("history", len(history)))

	var g errgroup.Group
	g.Go(func() error {
		err := c.sim.Run(ctx, turn, stageTarget{ctx: ctx, c: c, prompt: text})
		if err != nil && !errors.Is(err, pipeline.ErrSuperseded) {
			logger.Warn("Stage simulation stopped", slog.String(errLoggerKey, err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		c.respond(ctx, history, logger)
		return nil
	})
	_ = g.Wait()

	c.finish(turn)
	logger.Debug("Turn finished")
	return nil
}

func (c *Controller) respond(ctx context.Context, history []models.Message, logger *slog.Logger) {
	deltas, err := c.llm.Chat(ctx, history)
	if err != nil {
		logger.Error("Failed to open reply", slog.String(errLoggerKey, err.Error()))
		c.apologize(err)
		return
	}

	aiMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	c.transcript.Append(aiMsg)
	c.notifyMessage(aiMsg)

	var content strings.Builder
	for delta, err := range deltas {
		if err != nil {
			logger.Error("Failed to read reply", slog.String(errLoggerKey, err.Error()))
			c.apologize(err)
			return
		}
		content.WriteString(delta)

		msg, err := c.transcript.SetContent(aiMsg.ID, content.String())
		if err != nil {
			logger.Error("Failed to update reply", slog.String(errLoggerKey, err.Error()))
			return
		}
		c.notifyMessage(msg)
	}
}

func (c *Controller) apologize(cause error) {
	detail := cause.Error()
	if detail == "" {
		detail = "Please try again."
	}
	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   apologyPrefix + detail,
		Timestamp: time.Now(),
	}
	c.transcript.Append(msg)
	c.notifyMessage(msg)
}

func (c *Controller) finish(turn uint64) {
	c.mu.Lock()
	if c.loadingTurn == turn {
		c.loading = false
	}
	c.mu.Unlock()
	c.notifyState()

	time.AfterFunc(c.graceDelay, func() {
		if c.board.Idle(turn) {
			c.notifyState()
		}
	})
}

func (c *Controller) recall(ctx context.Context, turn uint64, prompt string) {
	if c.memories == nil {
		return
	}
	entries, err := c.memories.Recall(ctx, prompt, defaultRecall)
	if err != nil {
		c.logger.Warn("Failed to recall memories",
			slog.Uint64("turn", turn),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	c.board.SetMemories(turn, entries)
}

func (c *Controller) notifyMessage(msg models.Message) {
	if c.observer != nil {
		c.observer.MessageUpdated(msg)
	}
}

func (c *Controller) notifyState() {
	if c.observer != nil {
		c.observer.StateUpdated(c.State())
	}
}

// stageTarget applies simulator transitions to the board and publishes them.
type stageTarget struct {
	ctx    context.Context
	c      *Controller
	prompt string
}

func (t stageTarget) Advance(turn uint64, i int) bool {
	if !t.c.board.Advance(turn, i) {
		return false
	}
	if models.Agents[i] == models.AgentRetriever {
		t.c.recall(t.ctx, turn, t.prompt)
	}
	t.c.notifyState()
	return true
}

func (t stageTarget) CompleteAll(turn uint64) bool {
	if !t.c.board.CompleteAll(turn) {
		return false
	}
	t.c.notifyState()
	return true
}

