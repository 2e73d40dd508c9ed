package relay_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MegaGrindStone/jarvis-web/internal/relay"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type upstream struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu       sync.Mutex
	lastReq  goopenai.ChatCompletionRequest
	lastAuth string
}

func (u *upstream) last() (goopenai.ChatCompletionRequest, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastReq, u.lastAuth
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		var req goopenai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		u.lastReq = req
		u.lastAuth = r.Header.Get("Authorization")
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newRelay(endpoint, apiKey string) *relay.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return relay.New(relay.Config{Endpoint: endpoint, APIKey: apiKey}, nil, logger)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/jarvis-chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func assertCORS(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestPreflight(t *testing.T) {
	h := newRelay("http://127.0.0.1:0", "")

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/jarvis-chat", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assertCORS(t, w)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newRelay("http://127.0.0.1:0", "key")

	req := httptest.NewRequest(http.MethodGet, "/functions/v1/jarvis-chat", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assertCORS(t, w)
}

func TestMissingAPIKey(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := newRelay(up.srv.URL, "")

	w := post(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"upstream API key is not configured"}`, w.Body.String())
	assert.Zero(t, up.hits.Load())
	assertCORS(t, w)
}

func TestInvalidBody(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {})
	h := newRelay(up.srv.URL, "key")

	w := post(t, h, `{"messages":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
	assert.Zero(t, up.hits.Load())
}

func TestBodyTooLarge(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {})
	h := newRelay(up.srv.URL, "key")

	w := post(t, h, `{"messages":[{"role":"user","content":"`+strings.Repeat("a", 2<<20)+`"}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
	assert.Zero(t, up.hits.Load())
	assertCORS(t, w)
}

func TestUpstreamErrors(t *testing.T) {
	tests := []struct {
		name           string
		upstreamStatus int
		wantStatus     int
		wantBody       string
	}{
		{
			name:           "Rate limited",
			upstreamStatus: http.StatusTooManyRequests,
			wantStatus:     http.StatusTooManyRequests,
			wantBody:       `{"error":"Rate limit exceeded. Please try again in a moment."}`,
		},
		{
			name:           "Credits exhausted",
			upstreamStatus: http.StatusPaymentRequired,
			wantStatus:     http.StatusPaymentRequired,
			wantBody:       `{"error":"API credits exhausted. Please add credits to continue."}`,
		},
		{
			name:           "Other failure",
			upstreamStatus: http.StatusServiceUnavailable,
			wantStatus:     http.StatusInternalServerError,
			wantBody:       `{"error":"AI processing failed"}`,
		},
		{
			name:           "Bad request upstream",
			upstreamStatus: http.StatusBadRequest,
			wantStatus:     http.StatusInternalServerError,
			wantBody:       `{"error":"AI processing failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "upstream says no", tt.upstreamStatus)
			})
			h := newRelay(up.srv.URL, "key")

			w := post(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assertCORS(t, w)
			assert.EqualValues(t, 1, up.hits.Load())
		})
	}
}

func TestStreamPassthrough(t *testing.T) {
	var sent strings.Builder
	_, _ = io.WriteString(&sent, ": OPENROUTER PROCESSING\n\n")
	for _, part := range []string{"Good ", "evening"} {
		chunk := goopenai.ChatCompletionStreamResponse{
			Choices: []goopenai.ChatCompletionStreamChoice{
				{Delta: goopenai.ChatCompletionStreamChoiceDelta{Content: part}},
			},
		}
		data, err := json.Marshal(chunk)
		require.NoError(t, err)
		msg := &sse.Message{}
		msg.AppendData(string(data))
		_, err = msg.WriteTo(&sent)
		require.NoError(t, err)
	}
	_, _ = io.WriteString(&sent, "data: [DONE]\n\n")
	body := sent.String()

	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	})
	h := newRelay(up.srv.URL, "secret")

	w := post(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assertCORS(t, w)
	assert.Equal(t, body, w.Body.String())

	var data []string
	for ev, err := range sse.Read(strings.NewReader(w.Body.String()), nil) {
		require.NoError(t, err)
		if ev.Data != "" {
			data = append(data, ev.Data)
		}
	}
	require.Len(t, data, 3)
	assert.Equal(t, "[DONE]", data[2])

	req, auth := up.last()
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, relay.DefaultModel, req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, goopenai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, relay.DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "Hello", req.Messages[1].Content)
}

func TestNonStreaming(t *testing.T) {
	const answer = `{"choices":[{"message":{"role":"assistant","content":"At your service."}}]}`
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, answer)
	})
	h := newRelay(up.srv.URL, "key")

	w := post(t, h, `{"messages":[{"role":"user","content":"Status?"}],"stream":false}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, answer, w.Body.String())
	req, _ := up.last()
	assert.False(t, req.Stream)
	assertCORS(t, w)
}

func TestNonStreamingInvalidJSON(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	h := newRelay(up.srv.URL, "key")

	w := post(t, h, `{"messages":[],"stream":false}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"AI processing failed"}`, w.Body.String())
}

func TestUpstreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	h := newRelay(url, "key")

	w := post(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "error sending request")
}
