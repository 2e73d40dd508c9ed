package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
)

// Transcript is the ordered, append-only message list of a session.
type Transcript struct {
	mu       sync.RWMutex
	messages []models.Message
}

// Append adds msg at the end of the transcript.
func (t *Transcript) Append(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, msg)
}

// SetContent replaces the content of the message with the given id and returns the updated message.
func (t *Transcript) SetContent(id, content string) (models.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.IndexFunc(t.messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return models.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	t.messages[idx].Content = content
	return t.messages[idx], nil
}

// Messages returns a copy of all messages in order.
func (t *Transcript) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.messages)
}
