// Package store persists completed safety checks.
//
// Board is a thread-safe in-memory view of each worker's latest result with
// TTL eviction; it backs the live dashboard. History is the SQLite-backed
// write-once archive that reporting views query. Both implement
// session.Sink through Record.
package store
