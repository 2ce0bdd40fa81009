// ABOUTME: End-to-end tests for the web channel over real WebSocket connections
// ABOUTME: Uses httptest, coder/websocket Dial, an in-memory sqlite store and the memory bus

package web

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatgate/internal/bus"
	"github.com/2389/chatgate/internal/registry"
	"github.com/2389/chatgate/internal/session"
)

type testEnv struct {
	channel  *Channel
	registry *registry.Registry
	store    *session.SQLStore
	bus      *bus.MemoryBus
	server   *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := session.NewSQLStore(session.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := bus.NewMemory(16)
	t.Cleanup(func() { _ = b.Close() })

	reg := registry.New(discardLogger())
	opts.Logger = discardLogger()
	ch := New(reg, store, b, opts)

	srv := httptest.NewServer(ch.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{channel: ch, registry: reg, store: store, bus: b, server: srv}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var env Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func writeText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
}

func (e *testEnv) expectInbound(t *testing.T) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := e.bus.ConsumeInbound(ctx)
	require.NoError(t, err)
	return msg
}

func (e *testEnv) expectNoInbound(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	msg, err := e.bus.ConsumeInbound(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected inbound message %+v", msg)
}

func TestChannel_ConnectSendsHistory(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	require.NoError(t, env.store.Append(ctx, "web:s1",
		session.Message{Role: session.RoleUser, Content: "earlier"},
		session.Message{Role: session.RoleSystem, Content: "hidden"},
		session.Message{Role: session.RoleAssistant, Content: "reply"},
	))

	conn := env.dial(t, "session=s1&client=c1")
	hist := readEnvelope(t, conn)

	assert.Equal(t, TypeHistory, hist.Type)
	assert.Equal(t, "s1", hist.Session)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "earlier", hist.Messages[0].Content)
	assert.Equal(t, "reply", hist.Messages[1].Content)
	assert.NotEmpty(t, hist.Messages[0].Timestamp)
}

func TestChannel_GeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, Options{})

	conn := env.dial(t, "session=%20%20")
	hist := readEnvelope(t, conn)

	assert.Len(t, hist.Session, 24)
	_, err := hex.DecodeString(hist.Session)
	assert.NoError(t, err)
	assert.Empty(t, hist.Messages)
}

func TestChannel_ForwardsMessages(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1&client=c1")
	readEnvelope(t, conn)

	writeText(t, conn, `{"type":"message","content":"  hello agent  "}`)
	msg := env.expectInbound(t)
	assert.Equal(t, ChannelName, msg.Channel)
	assert.Equal(t, "c1", msg.SenderID)
	assert.Equal(t, "s1", msg.ChatID)
	assert.Equal(t, "hello agent", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())

	writeText(t, conn, "plain text")
	assert.Equal(t, "plain text", env.expectInbound(t).Content)

	writeText(t, conn, "{bad")
	assert.Equal(t, "{bad", env.expectInbound(t).Content)

	writeText(t, conn, "[1,2]")
	assert.Equal(t, "[1,2]", env.expectInbound(t).Content)
}

func TestChannel_GeneratedClientID(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)

	writeText(t, conn, "hi")
	msg := env.expectInbound(t)
	assert.Len(t, msg.SenderID, 16)
}

func TestChannel_EmptyMessagesNotForwarded(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)

	writeText(t, conn, `{"type":"message","content":"   "}`)
	writeText(t, conn, `{"type":"message"}`)
	writeText(t, conn, "  \n ")
	env.expectNoInbound(t)

	// No error frame either; the next frame the client sees is the reply to this one.
	writeText(t, conn, `{"type":"bogus"}`)
	got := readEnvelope(t, conn)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, "unknown message type: bogus", got.Content)
}

func TestChannel_UnknownTypeKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)

	writeText(t, conn, `{"type":"ping"}`)
	got := readEnvelope(t, conn)
	assert.Equal(t, Envelope{Type: TypeError, Content: "unknown message type: ping"}, got)

	writeText(t, conn, "still here")
	assert.Equal(t, "still here", env.expectInbound(t).Content)
}

func TestChannel_ClearThenReconnectHasEmptyHistory(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	require.NoError(t, env.store.Append(ctx, "web:s1", session.Message{Role: session.RoleUser, Content: "old"}))

	conn := env.dial(t, "session=s1")
	require.Len(t, readEnvelope(t, conn).Messages, 1)

	writeText(t, conn, `{"type":"clear"}`)
	assert.Equal(t, Envelope{Type: TypeInfo, Content: "cleared"}, readEnvelope(t, conn))
	after := readEnvelope(t, conn)
	assert.Equal(t, TypeHistory, after.Type)
	assert.Empty(t, after.Messages)

	conn.Close(websocket.StatusNormalClosure, "")

	again := env.dial(t, "session=s1")
	hist := readEnvelope(t, again)
	assert.Empty(t, hist.Messages)
}

func TestChannel_ReconnectHistoryBypassesCache(t *testing.T) {
	inner, err := session.NewSQLStore(session.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer inner.Close()
	cached := session.NewCachedStore(inner, time.Hour, 16)
	ctx := context.Background()

	// Warm the cache with an empty session.
	_, err = cached.Get(ctx, "web:s1", false)
	require.NoError(t, err)

	b := bus.NewMemory(4)
	defer b.Close()
	ch := New(registry.New(discardLogger()), cached, b, Options{Logger: discardLogger()})
	srv := httptest.NewServer(ch.Handler())
	defer srv.Close()
	env := &testEnv{channel: ch, server: srv}

	// Another writer appends behind the cache's back.
	require.NoError(t, inner.Append(ctx, "web:s1", session.Message{Role: session.RoleAssistant, Content: "fresh"}))

	conn := env.dial(t, "session=s1")
	hist := readEnvelope(t, conn)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "fresh", hist.Messages[0].Content)
}

func TestChannel_SendBroadcastsToSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	a := env.dial(t, "session=shared")
	b := env.dial(t, "session=shared")
	other := env.dial(t, "session=other")
	for _, c := range []*websocket.Conn{a, b, other} {
		readEnvelope(t, c)
	}
	require.Eventually(t, func() bool { return env.registry.Count("shared") == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, env.channel.Send(context.Background(), bus.OutboundMessage{Channel: ChannelName, ChatID: "shared", Content: "to both"}))

	for _, c := range []*websocket.Conn{a, b} {
		got := readEnvelope(t, c)
		assert.Equal(t, TypeMessage, got.Type)
		assert.Equal(t, "assistant", got.Role)
		assert.Equal(t, "to both", got.Content)
		_, err := time.Parse(time.RFC3339Nano, got.Timestamp)
		assert.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := other.Read(ctx)
	assert.Error(t, err, "other session must not receive the reply")
}

func TestChannel_SendWithoutViewersIsNoop(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.NoError(t, env.channel.Send(context.Background(), bus.OutboundMessage{ChatID: "ghost", Content: "x"}))
}

func TestChannel_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)
	require.Equal(t, 1, env.registry.Count("s1"))

	conn.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool { return env.registry.Count("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.registry.Sessions())
}

func TestChannel_RefusedClientClosedWithPolicyViolation(t *testing.T) {
	env := newTestEnv(t, Options{AllowFrom: []string{"alice"}})

	conn := env.dial(t, "session=s1&client=bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)

	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 0, env.registry.Count("s1"))

	allowed := env.dial(t, "session=s1&client=alice")
	assert.Equal(t, TypeHistory, readEnvelope(t, allowed).Type)
}

func TestChannel_ShutdownClosesWithGoingAway(t *testing.T) {
	env := newTestEnv(t, Options{})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)

	go env.channel.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestChannel_ConnectAfterShutdownClosesWithGoingAway(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.channel.Shutdown()

	conn := env.dial(t, "session=s1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return env.registry.Count("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestChannel_OversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, Options{MaxFrameBytes: 64})
	conn := env.dial(t, "session=s1")
	readEnvelope(t, conn)

	writeText(t, conn, strings.Repeat("x", 1024))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
	env.expectNoInbound(t)
}

func TestHTTP_Endpoints(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		path        string
		status      int
		contentType string
		body        string
	}{
		{"/healthz", http.StatusOK, "text/plain; charset=utf-8", "ok"},
		{"/health", http.StatusOK, "text/plain; charset=utf-8", "ok"},
		{"/favicon.ico", http.StatusNoContent, "image/x-icon", ""},
		{"/nope", http.StatusNotFound, "text/plain; charset=utf-8", "not found"},
		{"/api/skills", http.StatusOK, "application/json; charset=utf-8", `{"skills":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestHTTP_Index(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "<title>chatgate</title>")
	}
}

func TestHTTP_SkillsListing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"weather", "github", ".hidden", "__pycache__"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	env := newTestEnv(t, Options{SkillsDir: dir})

	resp, err := http.Get(env.server.URL + "/api/skills")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.JSONEq(t, `{"skills":["github","weather"]}`, string(body))
}
