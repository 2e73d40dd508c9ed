package models

import "time"

// Message represents an individual communication entry within a session. Messages are appended in
// creation order and never reordered. An assistant message starts with empty content and grows while
// its response streams in.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message authored by the assistant, including in-band error apologies.
	RoleAssistant Role = "assistant"
	// RoleSystem is only used on the wire, for the instruction the relay prepends.
	RoleSystem Role = "system"
)
