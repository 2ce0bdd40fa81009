// Package registry tracks which live connections are viewing which session.
//
// # Overview
//
// A session is a logical conversation identity that may be open in several
// browser tabs or devices at once. The Registry maps each session id to the
// set of connections currently attached to it:
//
//	reg := registry.New(logger)
//	reg.Register(sessionID, conn)
//	defer reg.Unregister(sessionID, conn)
//
// # Broadcast
//
// Broadcast copies the session's connection set under a read lock, releases
// the lock, and sends to every member concurrently. A send error marks the
// connection stale; stale connections are unregistered once the pass is done.
// Broadcasting to a session nobody is viewing is a no-op.
//
// # Shutdown
//
// CloseAll closes every connection with the given code and reason and clears
// the map. Individual close errors are swallowed so a misbehaving client
// cannot stall shutdown.
package registry
