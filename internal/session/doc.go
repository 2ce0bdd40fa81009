// Package session persists per-conversation message history.
//
// # Keys
//
// Sessions are keyed "<channel>:<chat id>", for example "web:3f2a...".
// [Key] builds one.
//
// # Backends
//
// [SQLStore] stores sessions through database/sql. Three drivers are wired:
//
//   - "sqlite"  modernc.org/sqlite (default, no cgo)
//   - "sqlite3" github.com/mattn/go-sqlite3
//   - "pgx"     github.com/jackc/pgx/v5/stdlib, DSN is a postgres URL
//
// Messages carry a per-session sequence number so ordering survives
// timestamp collisions.
//
// # Caching
//
// [CachedStore] keeps recently used sessions in memory. The agent reads
// through the cache; history replay to a newly connected client passes
// refresh=true so it never serves a stale copy.
package session
