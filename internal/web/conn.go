// ABOUTME: registry.Conn implementation over a coder/websocket connection
// ABOUTME: Bounds each write with the configured timeout

package web

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type wsConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame. The library serializes concurrent writers.
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) sendEnvelope(ctx context.Context, env Envelope) error {
	payload, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	return c.Send(ctx, payload)
}
