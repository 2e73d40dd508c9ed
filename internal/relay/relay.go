// Package relay implements the stateless endpoint that forwards a conversation to the upstream
// chat-completions gateway and relays its answer back to the browser.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	goopenai "github.com/sashabaranov/go-openai"
)

// Config configures the relay. All values are passed explicitly; the relay never reads the
// environment itself.
type Config struct {
	// Endpoint is the upstream chat-completions URL.
	Endpoint string
	// Model is the upstream model name.
	Model string
	// SystemPrompt is prepended to every conversation.
	SystemPrompt string
	// APIKey authenticates against the upstream. A relay without a key fails every request before
	// contacting the upstream.
	APIKey string
}

// Handler is the relay endpoint. It keeps no state between requests and is safe for concurrent use.
type Handler struct {
	cfg    Config
	client *http.Client

	logger *slog.Logger
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Stream   *bool         `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const (
	// DefaultEndpoint is the gateway used when Config.Endpoint is empty.
	DefaultEndpoint = "https://ai.gateway.lovable.dev/v1/chat/completions"
	// DefaultModel is the model used when Config.Model is empty.
	DefaultModel = "google/gemini-2.5-flash"

	errLoggerKey = "err"

	// maxBodyBytes caps the conversation a client may post.
	maxBodyBytes = 1 << 20

	msgRateLimited    = "Rate limit exceeded. Please try again in a moment."
	msgCreditsOut     = "API credits exhausted. Please add credits to continue."
	msgUpstreamFailed = "AI processing failed"
	msgMissingKey     = "upstream API key is not configured"
)

var errMissingKey = errors.New(msgMissingKey)

// New creates a relay Handler. Empty endpoint, model and system prompt fall back to the defaults. A nil
// client means a plain http.Client without timeout: streamed answers may take arbitrarily long.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Handler {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("module", "relay")),
	}
}

// ServeHTTP answers pre-flight requests and relays POSTed conversations upstream. Upstream failures are
// mapped to 429, 402 or 500 with a JSON {"error": ...} body. A streamed answer is piped through as
// text/event-stream without being parsed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		h.logger.Error("Method not allowed", slog.String("method", r.Method))
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", slog.String(errLoggerKey, err.Error()))
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	stream := req.Stream == nil || *req.Stream

	if h.cfg.APIKey == "" {
		h.logger.Error("Relay is not configured", slog.String(errLoggerKey, errMissingKey.Error()))
		writeError(w, http.StatusInternalServerError, errMissingKey.Error())
		return
	}

	h.logger.Info("Processing request",
		slog.Int("messages", len(req.Messages)),
		slog.Bool("stream", stream))

	resp, err := h.doRequest(r.Context(), req.Messages, stream)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("Client went away before upstream answered")
			return
		}
		h.logger.Error("Upstream request failed", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		h.logger.Error("Upstream error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			writeError(w, http.StatusTooManyRequests, msgRateLimited)
		case http.StatusPaymentRequired:
			writeError(w, http.StatusPaymentRequired, msgCreditsOut)
		default:
			writeError(w, http.StatusInternalServerError, msgUpstreamFailed)
		}
		return
	}

	if stream {
		h.pipe(w, resp.Body)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.Error("Failed to read upstream response", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !json.Valid(body) {
		h.logger.Error("Upstream response is not JSON", slog.String("body", string(body)))
		writeError(w, http.StatusInternalServerError, msgUpstreamFailed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) doRequest(ctx context.Context, messages []chatMessage, stream bool) (*http.Response, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: h.cfg.SystemPrompt,
	})

	reqBody := goopenai.ChatCompletionRequest{
		Model:    h.cfg.Model,
		Messages: msgs,
		Stream:   stream,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	h.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	return resp, nil
}

// pipe copies the upstream event stream verbatim, flushing after every read so frames reach the
// browser as soon as the upstream produced them.
func (h *Handler) pipe(w http.ResponseWriter, body io.Reader) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Debug("Client stopped reading", slog.String(errLoggerKey, werr.Error()))
				return
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				h.logger.Debug("Failed to flush", slog.String(errLoggerKey, ferr.Error()))
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Error("Failed to read upstream stream", slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(errorResponse{Error: msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
