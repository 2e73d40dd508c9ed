package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
	"github.com/MegaGrindStone/jarvis-web/internal/stream"
)

// Jarvis streams assistant replies through the relay endpoint. It implements session.LLM.
type Jarvis struct {
	relayURL  string
	publicKey string

	client *http.Client

	logger *slog.Logger
}

// HTTPError is returned when the relay answers with a non-2xx status. Message is the relay's
// {"error": ...} text, or a generic message when the body carries none.
type HTTPError struct {
	Status  int
	Message string
}

// NetworkError is returned when the relay could not be reached or the connection broke while the
// reply was streaming.
type NetworkError struct {
	Err error
}

type jarvisChatRequest struct {
	Messages []jarvisMessage `json:"messages"`
}

type jarvisMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jarvisErrorResponse struct {
	Error string `json:"error"`
}

const defaultHTTPErrorMessage = "Failed to get response"

// NewJarvis creates a Jarvis client for the relay at relayURL, authenticating with the public client key.
func NewJarvis(relayURL, publicKey string, logger *slog.Logger) Jarvis {
	if logger == nil {
		logger = slog.Default()
	}
	return Jarvis{
		relayURL:  relayURL,
		publicKey: publicKey,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "jarvis")),
	}
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *NetworkError) Error() string {
	return e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Chat posts the conversation to the relay and returns an iterator over the streamed deltas. A non-2xx
// answer is returned as *HTTPError and a transport failure as *NetworkError, both before any delta. The
// iterator owns the response body and must be ranged over once to release it.
func (j Jarvis) Chat(ctx context.Context, messages []models.Message) (iter.Seq2[string, error], error) {
	resp, err := j.doRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		defer resp.Body.Close()

		var deltas []string
		dec := stream.NewDecoder(func(delta string) {
			deltas = append(deltas, delta)
		})

		buf := make([]byte, 32<<10)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := dec.Write(buf[:n]); werr != nil {
					yield("", fmt.Errorf("error decoding response: %w", werr))
					return
				}
				for _, d := range deltas {
					if !yield(d, nil) {
						return
					}
				}
				deltas = deltas[:0]
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", &NetworkError{Err: fmt.Errorf("error reading response: %w", err)})
				return
			}
		}

		if err := dec.Close(); err != nil {
			j.logger.Warn("Failed to close decoder", slog.String("err", err.Error()))
		}
		if dropped := dec.Dropped(); dropped > 0 {
			j.logger.Warn("Dropped malformed stream payloads", slog.Int("count", dropped))
		}
		j.logger.Debug("Reply streamed", slog.Int("length", len(dec.Content())))
	}, nil
}

func (j Jarvis) doRequest(ctx context.Context, messages []models.Message) (*http.Response, error) {
	msgs := make([]jarvisMessage, 0, len(messages))
	for _, msg := range messages {
		msgs = append(msgs, jarvisMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	jsonBody, err := json.Marshal(jarvisChatRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.relayURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if j.publicKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.publicKey)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		httpErr := &HTTPError{Status: resp.StatusCode, Message: defaultHTTPErrorMessage}
		var errRes jarvisErrorResponse
		if err := json.Unmarshal(body, &errRes); err == nil && errRes.Error != "" {
			httpErr.Message = errRes.Error
		}
		j.logger.Error("Relay returned an error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, httpErr
	}

	return resp, nil
}
