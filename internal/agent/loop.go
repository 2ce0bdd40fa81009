// ABOUTME: Single-turn agent loop between the message bus and the LLM dispatcher
// ABOUTME: Records the user turn first, asks the model, persists and publishes the reply

package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/chatgate/internal/bus"
	"github.com/2389/chatgate/internal/provider"
	"github.com/2389/chatgate/internal/session"
)

// emptyReply is sent when the model finishes without any text.
const emptyReply = "I've completed processing but have no response to give."

// Chatter is what the loop needs from the provider layer.
type Chatter interface {
	Chat(ctx context.Context, req provider.ChatRequest) provider.ChatResult
}

// Bus is the subset of bus.Bus the loop uses.
type Bus interface {
	ConsumeInbound(ctx context.Context) (bus.InboundMessage, error)
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

// Options configures a Loop.
type Options struct {
	// HistoryWindow is how many prior messages are sent to the model.
	HistoryWindow int
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	Logger        *slog.Logger
}

// Loop consumes inbound messages one at a time and answers each.
type Loop struct {
	bus   Bus
	store session.Store
	chat  Chatter
	opts  Options

	logger *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(b Bus, store session.Store, chat Chatter, opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 50
	}
	return &Loop{
		bus:    b,
		store:  store,
		chat:   chat,
		opts:   opts,
		logger: opts.Logger.With("component", "agent"),
	}
}

// Run processes messages until ctx is cancelled or the bus is closed.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("agent loop started")
	defer l.logger.Info("agent loop stopped")

	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		reply := l.Process(ctx, msg)
		if err := l.bus.PublishOutbound(ctx, reply); err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			l.logger.Error("publishing reply failed", "session", msg.SessionKey(), "error", err)
		}
	}
}

// Process answers one inbound message. It always returns a reply; model
// failures are returned as their error text.
func (l *Loop) Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	key := msg.SessionKey()
	start := time.Now()

	var history []session.Message
	sess, err := l.store.Get(ctx, key, false)
	if err != nil {
		l.logger.Warn("loading session failed, continuing without history", "session", key, "error", err)
	} else {
		history = sess.Tail(l.opts.HistoryWindow)
	}

	// Record the user turn before calling the model so it survives failures.
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := l.store.Append(ctx, key, session.Message{Role: session.RoleUser, Content: msg.Content, Timestamp: ts}); err != nil {
		l.logger.Error("recording user message failed", "session", key, "error", err)
	}

	result := l.chat.Chat(ctx, provider.ChatRequest{
		Messages:    l.buildMessages(history, msg.Content),
		MaxTokens:   l.opts.MaxTokens,
		Temperature: l.opts.Temperature,
	})

	content := result.Content
	if result.IsError() {
		l.logger.Warn("model call failed", "session", key, "error", content)
	} else {
		if content == "" {
			content = emptyReply
		}
		if err := l.store.Append(ctx, key, session.Message{Role: session.RoleAssistant, Content: content, Timestamp: time.Now()}); err != nil {
			l.logger.Error("recording reply failed", "session", key, "error", err)
		}
	}

	attrs := []any{
		"session", key,
		"sender", msg.SenderID,
		"finish_reason", result.FinishReason,
		"duration", time.Since(start),
	}
	if result.Usage != nil {
		attrs = append(attrs,
			"prompt_tokens", result.Usage.PromptTokens,
			"completion_tokens", result.Usage.CompletionTokens)
	}
	l.logger.Debug("message processed", attrs...)

	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	}
}

// buildMessages assembles the model prompt: optional system prompt, prior
// user and assistant turns, then the new user message.
func (l *Loop) buildMessages(history []session.Message, content string) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+2)
	if l.opts.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: session.RoleSystem, Content: l.opts.SystemPrompt})
	}
	for _, m := range history {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		msgs = append(msgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, provider.Message{Role: session.RoleUser, Content: content})
}
