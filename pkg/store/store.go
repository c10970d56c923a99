// Package store defines the SessionStore interface for VibeKit CLI
// persistence: named sessions, their conversation history and the events
// streamed while they ran.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is a named, resumable piece of work against one agent and
// sandbox environment.
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Agent       string    `json:"agent"`
	Environment string    `json:"environment"`
	Repo        string    `json:"repo,omitempty"`
	SandboxID   string    `json:"sandbox_id,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	PRURL       string    `json:"pr_url,omitempty"`
	PRNumber    int       `json:"pr_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one conversation turn.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one streamed update or error recorded for a session.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	Type      string    `json:"type"` // "update", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore provides persistence for sessions, messages, and events.
type SessionStore interface {
	CreateSession(sess *Session) error
	GetSession(id string) (*Session, error)
	GetSessionByName(name string) (*Session, error)
	ListSessions() ([]*Session, error)
	UpdateSession(sess *Session) error
	DeleteSession(id string) error
	AddMessage(msg *Message) error
	GetMessages(sessionID string) ([]*Message, error)
	AddEvent(event *Event) error
	GetEvents(sessionID string, afterID int64) ([]*Event, error)
	Close() error
}
