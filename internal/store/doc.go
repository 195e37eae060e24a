// Package store provides persistent storage for agents, users and messages.
//
// # Architecture
//
// Store composes two interfaces:
//
//   - IdentityStore: agent accounts and per-identity presence records
//   - MessageStore: chat messages, inbox scans and read flags
//
// SQLiteStore implements both. MockStore is an in-memory implementation
// with the same semantics for tests that do not need SQLite.
//
// # Data Models
//
//   - Agent: registered support staff with a bcrypt password hash
//   - User: anonymous customer, created on first identify
//   - Message: one agent<->user message; only IsRead changes after insert
//
// # Presence Records
//
// Each identity row carries is_online, last_seen and the id of the bound
// connection. Offline updates are conditional on that connection id, so a
// late disconnect from a replaced connection never clears a newer one.
//
// # SQLite Configuration
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go, the
// default) and "sqlite3" (mattn/go-sqlite3, cgo). The store enables WAL
// and a busy timeout:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The schema is created on open.
//
// # Errors
//
//   - ErrNotFound: requested entity does not exist
//   - ErrUsernameExists: agent username already registered
//
// All methods accept context.Context for cancellation support.
package store
