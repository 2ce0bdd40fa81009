// ABOUTME: Session store interface and data types for conversation history
// ABOUTME: Defines Session, Message and the Store contract used by channels and the agent

package session

import (
	"context"
	"time"
)

// Role constants for session messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one persisted turn of a conversation
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Session is the persisted history of one conversation, keyed "<channel>:<chat id>"
type Session struct {
	Key       string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tail returns the last n messages, or all of them when n <= 0 or there are fewer.
func (s *Session) Tail(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// clone returns a deep copy so cached sessions are never shared with callers.
func (s *Session) clone() *Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}

// Key builds the store key for a chat on a channel.
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

// Store persists conversation history.
type Store interface {
	// Get returns the session for key, or an empty session if none exists.
	// When refresh is true any in-process cache is bypassed and repopulated
	// from the backing store.
	Get(ctx context.Context, key string, refresh bool) (*Session, error)

	// Append adds messages to the end of the session, creating it if needed.
	Append(ctx context.Context, key string, msgs ...Message) error

	// Delete removes the session and all of its messages. Deleting a missing
	// session is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store
	Close() error
}
