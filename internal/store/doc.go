// Package store provides durable storage for escrow transactions and
// their append-only status history.
//
// Uses SQLite with WAL mode for concurrent read access. All mutations are
// single atomic writes: status changes go through CompareAndSwap, which
// updates the row and appends the history entry in one SQL transaction
// guarded by the version counter. A CAS that loses a race returns
// ErrVersionConflict, which callers treat as "already handled", never as
// a failure.
package store
