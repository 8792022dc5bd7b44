package escrow

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// Transaction is an immutable snapshot of an escrow transaction as read
// from the store. Mutations never happen on the snapshot itself; callers
// apply events through the engine and write the outcome back with a
// compare-and-swap keyed on Version.
//
// Scheduling invariant: IsAutoTransitionScheduled is true iff
// NextAutoTransitionAt is non-nil. The reconciliation jobs exist to detect
// and repair violations of this invariant.
type Transaction struct {
	ID       string
	Status   Status
	BuyerID  string
	SellerID string

	// PriceCents and Quantity are set at creation and immutable after.
	PriceCents int64
	Quantity   int64

	// Version is the optimistic concurrency counter. Every committed
	// write increments it by one.
	Version int64

	// TrackingNumber and ShippingCarrier are recorded on the shipped
	// transition.
	TrackingNumber  string
	ShippingCarrier string

	// NextAutoTransitionAt is the deadline of the pending automatic
	// transition, nil when none is scheduled.
	NextAutoTransitionAt      *time.Time
	IsAutoTransitionScheduled bool

	CreatedAt time.Time

	// UpdatedAt is the instant the transaction entered its current
	// status. Deadline derivation and the staleness sweeps key off it.
	UpdatedAt time.Time
}

// ScheduleConsistent reports whether the scheduling flag agrees with the
// presence of a deadline. It deliberately ignores whether the deadline is
// due — that is the fire job's concern, not a consistency violation.
func (t Transaction) ScheduleConsistent() bool {
	return t.IsAutoTransitionScheduled == (t.NextAutoTransitionAt != nil)
}

// HistoryEntry is one write-once row of a transaction's status history.
// Entries are only ever appended, never mutated or deleted.
type HistoryEntry struct {
	TransactionID string
	Status        Status
	Actor         string
	Notes         string
	RecordedAt    time.Time
}

// Role identifies who is acting on a transaction.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"

	// RoleStaff may perform any edge in the transition table, including
	// dispute resolution.
	RoleStaff Role = "staff"

	// RoleSystem is the synthetic actor for timeout-fired transitions.
	RoleSystem Role = "system"
)

// Actor is the principal behind a user-driven event.
type Actor struct {
	ID   string
	Role Role
}

// Label renders the actor as stored in history rows, e.g. "buyer:u-42" or
// "system:timeout".
func (a Actor) Label() string {
	return string(a.Role) + ":" + a.ID
}

// SystemActor is recorded on automatic transitions.
var SystemActor = Actor{ID: "timeout", Role: RoleSystem}

// NormalizeNotes NFC-normalizes free-text notes at the write boundary so
// that byte-identical history rows compare equal regardless of how the
// caller composed the text.
func NormalizeNotes(s string) string {
	return norm.NFC.String(s)
}
