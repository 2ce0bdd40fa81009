// Package web implements the browser chat channel.
//
// # Endpoints
//
// The channel's [Channel.Handler] serves, on one listener:
//
//	/ws?session=<id>&client=<id>   WebSocket chat endpoint (any /ws* path)
//	/ and /index.html              embedded single-page UI
//	/healthz, /health              "ok"
//	/api/skills                    {"skills": [...]} from the skills directory
//	/favicon.ico                   204
//
// Everything else is a 404. Plain HTTP responses are never cached.
//
// # Connection lifecycle
//
// Missing session or client ids are generated. A client refused by the
// [Allower] is closed with 1008 "Not allowed". Otherwise the connection is
// registered under its session and receives a history envelope built from a
// fresh read of the session store, then frames are read until it closes.
//
// # Wire protocol
//
// Inbound frames are JSON objects {"type":"message","content":...} or
// {"type":"clear"}. Anything that is not a JSON object is treated as message
// text. Outbound envelopes:
//
//	{"type":"history","session":"...","messages":[{"role","content","timestamp"}]}
//	{"type":"message","role":"assistant","content":"...","timestamp":"..."}
//	{"type":"info","content":"cleared"}
//	{"type":"error","content":"unknown message type: x"}
package web
