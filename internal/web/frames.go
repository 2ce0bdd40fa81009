// ABOUTME: Wire format for the browser chat protocol
// ABOUTME: Lenient inbound frame decoding and outbound JSON envelopes

package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/chatgate/internal/session"
)

// Envelope types sent to the browser.
const (
	TypeMessage = "message"
	TypeHistory = "history"
	TypeInfo    = "info"
	TypeError   = "error"
	TypeClear   = "clear"
)

// FrameKind tags an InboundFrame.
type FrameKind int

const (
	FrameMessage FrameKind = iota
	FrameClear
	FrameUnknown
)

// InboundFrame is a decoded client frame. Content is set for FrameMessage and
// is already trimmed; Type holds the unrecognized type for FrameUnknown.
type InboundFrame struct {
	Kind    FrameKind
	Content string
	Type    string
}

// DecodeFrame interprets raw frame text. JSON is only attempted when the
// text starts with '{' or '['; anything that isn't a JSON object is treated
// as plain message text.
func DecodeFrame(raw string) InboundFrame {
	var data map[string]any
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			data, _ = v.(map[string]any)
		}
	}
	if data == nil {
		return InboundFrame{Kind: FrameMessage, Content: strings.TrimSpace(raw)}
	}

	switch msgType := stringify(data["type"]); msgType {
	case TypeMessage:
		return InboundFrame{Kind: FrameMessage, Content: strings.TrimSpace(stringify(data["content"]))}
	case TypeClear:
		return InboundFrame{Kind: FrameClear}
	default:
		return InboundFrame{Kind: FrameUnknown, Type: msgType}
	}
}

// stringify renders a decoded JSON value as text. Missing, null, false and
// empty values become "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// HistoryEntry is one message in a history envelope.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Envelope is one outbound frame. Which fields are sent depends on Type.
type Envelope struct {
	Type      string         `json:"type"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Session   string         `json:"session,omitempty"`
	Messages  []HistoryEntry `json:"messages,omitempty"`
}

// MarshalJSON emits exactly the fields defined for the envelope's type.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var v any
	switch e.Type {
	case TypeMessage:
		v = struct {
			Type      string `json:"type"`
			Role      string `json:"role"`
			Content   string `json:"content"`
			Timestamp string `json:"timestamp"`
		}{e.Type, e.Role, e.Content, e.Timestamp}
	case TypeHistory:
		msgs := e.Messages
		if msgs == nil {
			msgs = []HistoryEntry{}
		}
		v = struct {
			Type     string         `json:"type"`
			Session  string         `json:"session"`
			Messages []HistoryEntry `json:"messages"`
		}{e.Type, e.Session, msgs}
	default:
		v = struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{e.Type, e.Content}
	}
	return encodeJSON(v)
}

// encodeJSON marshals without HTML escaping and without a trailing newline.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// assistantMessage builds the envelope for an agent reply.
func assistantMessage(content string, now time.Time) Envelope {
	return Envelope{Type: TypeMessage, Role: session.RoleAssistant, Content: content, Timestamp: formatTimestamp(now)}
}

func infoEnvelope(content string) Envelope {
	return Envelope{Type: TypeInfo, Content: content}
}

func errorEnvelope(content string) Envelope {
	return Envelope{Type: TypeError, Content: content}
}

// historyEnvelope keeps the last limit user and assistant messages of sess.
func historyEnvelope(sessionID string, sess *session.Session, limit int) Envelope {
	entries := make([]HistoryEntry, 0)
	for _, m := range sess.Tail(limit) {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		entry := HistoryEntry{Role: m.Role, Content: m.Content}
		if !m.Timestamp.IsZero() {
			entry.Timestamp = formatTimestamp(m.Timestamp)
		}
		entries = append(entries, entry)
	}
	return Envelope{Type: TypeHistory, Session: sessionID, Messages: entries}
}
