// ABOUTME: Session registry mapping session ids to their live connections
// ABOUTME: Owns fan-out broadcast with stale-connection pruning and shutdown close

package registry

import (
	"context"
	"log/slog"
	"sync"
)

// Conn is one live bidirectional stream registered under a single session.
type Conn interface {
	// ID uniquely identifies the connection for the lifetime of the process.
	ID() string
	// Send writes one text frame. A non-nil error marks the connection stale.
	Send(ctx context.Context, payload []byte) error
	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}

// Registry maps session ids to the set of connections currently viewing them.
// Session keys with no connections are removed immediately.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Conn // sessionID -> connID -> conn
	logger   *slog.Logger
}

// New creates a registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]map[string]Conn),
		logger:   logger.With("component", "registry"),
	}
}

// Register adds conn to the session's connection set, creating the set if absent.
func (r *Registry) Register(sessionID string, conn Conn) {
	r.mu.Lock()
	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[string]Conn)
		r.sessions[sessionID] = conns
	}
	conns[conn.ID()] = conn
	total := len(conns)
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		"session", sessionID,
		"conn_id", conn.ID(),
		"session_conns", total)
}

// Unregister removes conn from the session. The session key is deleted when
// its last connection goes away. Unknown sessions or connections are ignored.
func (r *Registry) Unregister(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn.ID()]; !exists {
		return
	}

	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}

	r.logger.Debug("connection unregistered",
		"session", sessionID,
		"conn_id", conn.ID(),
		"session_conns", len(conns))
}

// Broadcast delivers payload to every connection registered under sessionID
// and returns how many sends succeeded. Sessions without connections are a
// no-op. Connections whose send fails are pruned after the pass; a failing or
// slow connection does not stop delivery to the others.
func (r *Registry) Broadcast(ctx context.Context, sessionID string, payload []byte) int {
	targets := r.snapshot(sessionID)
	if len(targets) == 0 {
		return 0
	}

	failed := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, conn := range targets {
		wg.Add(1)
		go func(i int, conn Conn) {
			defer wg.Done()
			if err := conn.Send(ctx, payload); err != nil {
				r.logger.Debug("send failed, marking connection stale",
					"session", sessionID,
					"conn_id", conn.ID(),
					"error", err)
				failed[i] = true
			}
		}(i, conn)
	}
	wg.Wait()

	delivered := 0
	for i, conn := range targets {
		if failed[i] {
			r.Unregister(sessionID, conn)
			continue
		}
		delivered++
	}
	return delivered
}

// snapshot copies the session's connections under the read lock so sends
// happen without holding it.
func (r *Registry) snapshot(sessionID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of live connections for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Sessions returns the ids of all sessions with at least one connection.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered connection and empties the registry.
// Close errors are logged and otherwise ignored.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	var all []Conn
	for sessionID, conns := range r.sessions {
		for _, conn := range conns {
			all = append(all, conn)
		}
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	for _, conn := range all {
		if err := conn.Close(code, reason); err != nil {
			r.logger.Debug("close failed during shutdown", "conn_id", conn.ID(), "error", err)
		}
	}

	r.logger.Debug("registry closed", "closed_conns", len(all))
}
