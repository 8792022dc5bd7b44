package escrow

import "time"

// EventKind distinguishes the two sources of transitions.
type EventKind int

const (
	// EventUserAction is an explicit request by a buyer, seller or staff
	// member to move the transaction to a new status.
	EventUserAction EventKind = iota

	// EventTimeoutFired is synthesized by the reconciliation jobs when a
	// scheduled deadline elapses. The target status comes from the
	// transition table, not from the event.
	EventTimeoutFired
)

// Event is the input to engine.Apply alongside a transaction snapshot.
type Event struct {
	Kind EventKind

	// Actor and RequestedStatus are set for user actions only.
	Actor           Actor
	RequestedStatus Status

	// Notes is appended to the history row. Optional.
	Notes string

	// TrackingNumber and ShippingCarrier are required when requesting the
	// shipped status and ignored otherwise.
	TrackingNumber  string
	ShippingCarrier string

	// Now is the instant the event is being applied. Deadline math and
	// due checks use it instead of reading the wall clock so that Apply
	// stays pure.
	Now time.Time
}

// UserAction builds a user-driven event.
func UserAction(actor Actor, to Status, now time.Time) Event {
	return Event{
		Kind:            EventUserAction,
		Actor:           actor,
		RequestedStatus: to,
		Now:             now,
	}
}

// TimeoutFired builds a timeout event.
func TimeoutFired(now time.Time) Event {
	return Event{Kind: EventTimeoutFired, Now: now}
}
