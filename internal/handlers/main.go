package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/MegaGrindStone/jarvis-web/internal/pipeline"
	"github.com/MegaGrindStone/jarvis-web/internal/session"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// MemoryBank defines the interface for the memory store behind the memory panel. Besides recalling
// memories for a running turn it supports browsing, searching and editing entries.
type MemoryBank interface {
	session.MemoryRecaller

	Memories(ctx context.Context) ([]models.MemoryEntry, error)
	Memory(ctx context.Context, id string) (models.MemoryEntry, error)
	AddMemory(ctx context.Context, memory models.MemoryEntry) (string, error)
	DeleteMemory(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]models.MemoryEntry, error)
	Stats(ctx context.Context) (models.MemoryStats, error)
}

// Main handles the core functionality of the chat application: it owns the chat sessions, pushes their
// updates to browsers through server-sent events and serves the memory bank.
type Main struct {
	sseSrv   *sse.Server
	md       goldmark.Markdown
	llm      session.LLM
	memories MemoryBank
	sim      pipeline.Simulator

	sessions *registry

	logger     *slog.Logger
	baseLogger *slog.Logger
}

type registry struct {
	mu   sync.Mutex
	byID map[string]*sessionEntry
}

type sessionEntry struct {
	ctrl     *session.Controller
	lastSeen time.Time
}

const (
	errLoggerKey = "err"

	// sessionTTL is how long a session may go unused before newSession evicts it.
	sessionTTL = 30 * time.Minute
)

// NewMain creates a new Main instance. Every session it creates gets its replies from llm, its memory
// panel from memories and its stage animation from sim.
func NewMain(llm session.LLM, memories MemoryBank, sim pipeline.Simulator, logger *slog.Logger) (Main, error) {
	if llm == nil {
		return Main{}, errors.New("llm is required")
	}
	if memories == nil {
		return Main{}, errors.New("memory bank is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// Clients only receive the updates of the session they asked for
				sessionID := s.Req.URL.Query().Get("session_id")
				if sessionID != "" {
					topics = append(topics, sessionTopic(sessionID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		md:         newMarkdown(),
		llm:        llm,
		memories:   memories,
		sim:        sim,
		sessions:   &registry{byID: map[string]*sessionEntry{}},
		logger:     logger.With(slog.String("module", "main")),
		baseLogger: logger,
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

func (m Main) newSession(id string) *session.Controller {
	m.EvictIdle(sessionTTL)

	sim := m.sim
	ctrl := session.NewController(id, m.llm, session.Options{
		Simulator: &sim,
		Memories:  m.memories,
		Observer: sseObserver{
			sessionID: id,
			srv:       m.sseSrv,
			md:        m.md,
			logger:    m.logger.With(slog.String("sessionID", id)),
		},
		Logger: m.baseLogger,
	})

	m.sessions.mu.Lock()
	m.sessions.byID[id] = &sessionEntry{ctrl: ctrl, lastSeen: time.Now()}
	m.sessions.mu.Unlock()

	m.logger.Info("Session created", slog.String("sessionID", id))
	return ctrl
}

func (m Main) session(id string) (*session.Controller, error) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	e, ok := m.sessions.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	e.lastSeen = time.Now()
	return e.ctrl, nil
}

// EvictIdle removes the sessions that have not been used for longer than maxIdle and are not running
// a turn. It returns how many sessions were removed.
func (m Main) EvictIdle(maxIdle time.Duration) int {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	evicted := 0
	for id, e := range m.sessions.byID {
		if time.Since(e.lastSeen) < maxIdle || e.ctrl.State().Loading {
			continue
		}
		delete(m.sessions.byID, id)
		evicted++
		m.logger.Info("Session evicted", slog.String("sessionID", id))
	}
	return evicted
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: closeSSEType}
	// Events without data are dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
