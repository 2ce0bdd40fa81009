// ABOUTME: Browser chat channel over WebSocket
// ABOUTME: Handshake, history replay, inbound frame handling and outbound fan-out

package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/chatgate/internal/bus"
	"github.com/2389/chatgate/internal/registry"
	"github.com/2389/chatgate/internal/session"
)

// ChannelName is the bus channel and session key prefix for this channel.
const ChannelName = "web"

// Close codes and reasons sent to clients.
const (
	closeNotAllowed     = websocket.StatusPolicyViolation // 1008
	reasonNotAllowed    = "Not allowed"
	CloseShutdown       = int(websocket.StatusGoingAway) // 1001
	ReasonShutdown      = "Server shutting down"
	defaultMaxFrame     = 2 << 20
	defaultHistoryLimit = 200
)

// Publisher accepts inbound user messages for the agent.
type Publisher interface {
	PublishInbound(ctx context.Context, msg bus.InboundMessage) error
}

// Options configures a Channel.
type Options struct {
	AllowFrom     []string
	MaxFrameBytes int64
	HistoryLimit  int
	WriteTimeout  time.Duration
	SkillsDir     string
	Logger        *slog.Logger
}

// Channel serves the chat UI and WebSocket endpoint and delivers agent replies
// to every connection viewing a session.
type Channel struct {
	registry  *registry.Registry
	store     session.Store
	publisher Publisher
	allower   Allower
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	closing   atomic.Bool
}

// New creates a Channel. Connections are tracked in reg; history is read from
// and cleared in store; user messages go to pub.
func New(reg *registry.Registry, store session.Store, pub Publisher, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = defaultMaxFrame
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Channel{
		registry:  reg,
		store:     store,
		publisher: pub,
		allower:   NewAllowList(opts.AllowFrom),
		opts:      opts,
		logger:    opts.Logger.With("component", "web-channel"),
		now:       time.Now,
	}
}

// Name returns the channel name used on the bus.
func (c *Channel) Name() string { return ChannelName }

// SetAllower replaces the allow-list.
func (c *Channel) SetAllower(a Allower) { c.allower = a }

// Send delivers an agent reply to every connection of msg.ChatID.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	payload, err := assistantMessage(msg.Content, c.now()).MarshalJSON()
	if err != nil {
		return err
	}
	delivered := c.registry.Broadcast(ctx, msg.ChatID, payload)
	c.logger.Debug("reply delivered", "session", msg.ChatID, "connections", delivered)
	return nil
}

// Shutdown closes every live connection with 1001. Connections that complete
// their handshake afterwards are closed the same way.
func (c *Channel) Shutdown() {
	c.closing.Store(true)
	c.registry.CloseAll(CloseShutdown, ReasonShutdown)
}

// ServeWS upgrades the request and runs the connection until it closes.
func (c *Channel) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session"))
	if sessionID == "" {
		sessionID = randomHex(12)
	}
	clientID := strings.TrimSpace(q.Get("client"))
	if clientID == "" {
		clientID = randomHex(8)
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		c.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	if !c.allower.Allowed(clientID) {
		c.logger.Warn("client not allowed", "client", clientID)
		_ = conn.Close(closeNotAllowed, reasonNotAllowed)
		return
	}

	conn.SetReadLimit(c.opts.MaxFrameBytes)
	wc := newWSConn(conn, c.opts.WriteTimeout)
	ctx := r.Context()

	c.registry.Register(sessionID, wc)
	defer c.registry.Unregister(sessionID, wc)
	// Checked after Register so a concurrent Shutdown either sees this
	// connection in CloseAll or is seen here.
	if c.closing.Load() {
		_ = wc.Close(CloseShutdown, ReasonShutdown)
		return
	}
	c.logger.Info("web client connected", "session", sessionID, "client", clientID)
	defer c.logger.Info("web client disconnected", "session", sessionID, "client", clientID)

	if err := c.sendHistory(ctx, wc, sessionID); err != nil {
		c.logger.Warn("sending history failed", "session", sessionID, "error", err)
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.logReadError(sessionID, err)
			return
		}
		c.handleFrame(ctx, wc, sessionID, clientID, DecodeFrame(string(data)))
	}
}

func (c *Channel) handleFrame(ctx context.Context, wc *wsConn, sessionID, clientID string, frame InboundFrame) {
	switch frame.Kind {
	case FrameMessage:
		if frame.Content == "" {
			return
		}
		err := c.publisher.PublishInbound(ctx, bus.InboundMessage{
			Channel:   ChannelName,
			SenderID:  clientID,
			ChatID:    sessionID,
			Content:   frame.Content,
			Timestamp: c.now(),
		})
		if err != nil {
			c.logger.Error("publishing inbound message failed", "session", sessionID, "error", err)
			_ = wc.sendEnvelope(ctx, errorEnvelope("message could not be delivered"))
		}

	case FrameClear:
		if err := c.store.Delete(ctx, session.Key(ChannelName, sessionID)); err != nil {
			c.logger.Error("clearing session failed", "session", sessionID, "error", err)
			_ = wc.sendEnvelope(ctx, errorEnvelope("failed to clear session"))
			return
		}
		if err := wc.sendEnvelope(ctx, infoEnvelope("cleared")); err != nil {
			return
		}
		if err := c.sendHistory(ctx, wc, sessionID); err != nil {
			c.logger.Warn("sending history failed", "session", sessionID, "error", err)
		}

	case FrameUnknown:
		_ = wc.sendEnvelope(ctx, errorEnvelope("unknown message type: "+frame.Type))
	}
}

// sendHistory replays the session tail, always re-reading the store.
func (c *Channel) sendHistory(ctx context.Context, wc *wsConn, sessionID string) error {
	sess, err := c.store.Get(ctx, session.Key(ChannelName, sessionID), true)
	if err != nil {
		return err
	}
	return wc.sendEnvelope(ctx, historyEnvelope(sessionID, sess, c.opts.HistoryLimit))
}

func (c *Channel) logReadError(sessionID string, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		return
	case status == websocket.StatusMessageTooBig:
		c.logger.Warn("frame too large", "session", sessionID)
	case errors.Is(err, context.Canceled):
		return
	default:
		c.logger.Debug("websocket read ended", "session", sessionID, "error", err)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
