package models

// SessionState is a point-in-time snapshot of the pipeline display of a session.
type SessionState struct {
	Turn     uint64        `json:"turn"`
	Loading  bool          `json:"loading"`
	Current  Agent         `json:"currentStage"`
	Stages   []Stage       `json:"stages"`
	Memories []MemoryEntry `json:"memories"`
}
