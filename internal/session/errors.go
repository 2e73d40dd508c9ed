package session

import "errors"

var (
	// ErrEmptyMessage is returned by Send for input that is empty or only whitespace.
	ErrEmptyMessage = errors.New("session: message is empty")
	// ErrNotFound is returned when a message or session does not exist.
	ErrNotFound = errors.New("session: not found")
)
