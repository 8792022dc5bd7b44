// Package escrow defines the domain model for escrow transactions: the
// status lifecycle, the fixed transition table, immutable transaction
// snapshots, lifecycle events, and the notification descriptors emitted as
// side effects of successful transitions.
//
// The package is pure: it performs no I/O and never touches the store or
// the notifier. All state changes flow through engine.Apply, which
// consumes these types.
package escrow
