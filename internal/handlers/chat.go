package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/MegaGrindStone/jarvis-web/internal/session"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	stateSSEType    = sse.Type("state")
	closeSSEType    = sse.Type("close")
)

type chatResponse struct {
	SessionID string `json:"sessionId"`
}

type sessionResponse struct {
	Messages []message `json:"messages"`
	State    state     `json:"state"`
}

// sseObserver publishes the updates of one session to the browsers subscribed to it.
type sseObserver struct {
	sessionID string
	srv       *sse.Server
	md        goldmark.Markdown
	logger    *slog.Logger
}

// HandleChats accepts a user message through HTTP POST form data and starts a turn for it.
//
// The handler expects a "message" form field and an optional "session_id" field. Without a session_id
// a new session is created. The turn runs in the background and its progress is pushed through
// Server-Sent Events, so the handler answers right away with 202 and the id of the session.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	var ctrl *session.Controller
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		ctrl = m.newSession(uuid.New().String())
	} else {
		var err error
		ctrl, err = m.session(sessionID)
		if err != nil {
			m.logger.Error("Failed to find session", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	// The turn outlives the request, so it gets its own context
	go func() {
		if err := ctrl.Send(context.Background(), msg); err != nil {
			m.logger.Error("Failed to send message",
				slog.String("sessionID", ctrl.ID()),
				slog.String(errLoggerKey, err.Error()))
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(chatResponse{SessionID: ctrl.ID()}); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSSE subscribes the browser to the updates of the session named by the "session_id" query
// parameter. Unknown sessions are rejected with 404.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if _, err := m.session(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	m.sseSrv.ServeHTTP(w, r)
}

// HandleSession returns the messages and the stage display of a session. Browsers use it to catch
// up with updates published before they subscribed.
func (m Main) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctrl, err := m.session(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	msgs := ctrl.Messages()
	res := sessionResponse{
		Messages: make([]message, len(msgs)),
		State:    renderState(ctrl.State()),
	}
	for i, msg := range msgs {
		res.Messages[i], err = renderMessage(m.md, msg)
		if err != nil {
			m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, res, m.logger)
}

func (o sseObserver) MessageUpdated(msg models.Message) {
	view, err := renderMessage(o.md, msg)
	if err != nil {
		o.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		return
	}
	o.publish(&sse.Message{Type: messagesSSEType}, view)
}

func (o sseObserver) StateUpdated(st models.SessionState) {
	o.publish(&sse.Message{Type: stateSSEType}, renderState(st))
}

func (o sseObserver) publish(msg *sse.Message, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("Failed to marshal event", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg.AppendData(string(data))
	if err := o.srv.Publish(msg, sessionTopic(o.sessionID)); err != nil {
		o.logger.Error("Failed to publish event", slog.String(errLoggerKey, err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}
