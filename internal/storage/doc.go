// Package storage persists the notification journal so history survives
// restarts.
//
// Drivers:
//   - "file": JSON Lines, one event per line, compacted in place
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//
// An empty driver or "none" disables persistence; Open then returns a nil
// Store and callers keep history in memory only.
package storage
