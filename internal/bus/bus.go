// ABOUTME: Message bus contract between chat channels and the agent
// ABOUTME: Defines inbound/outbound message types and the Bus interface

package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by bus operations after Close.
var ErrClosed = errors.New("bus closed")

// InboundMessage is a user message received on a channel.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionKey returns the session store key for the message's conversation.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply to deliver to a chat on a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// Bus moves messages between channels and the agent. Consume calls block
// until a message arrives, ctx is done, or the bus is closed.
type Bus interface {
	PublishInbound(ctx context.Context, msg InboundMessage) error
	ConsumeInbound(ctx context.Context) (InboundMessage, error)
	PublishOutbound(ctx context.Context, msg OutboundMessage) error
	ConsumeOutbound(ctx context.Context) (OutboundMessage, error)
	Close() error
}
