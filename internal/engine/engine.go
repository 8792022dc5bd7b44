// Package engine applies lifecycle events to transaction snapshots.
//
// Apply is pure: it takes a snapshot and an event and returns the outcome
// to persist, without touching the store or the clock. The Transitioner
// wraps Apply with the read / apply / compare-and-swap loop and the
// notification fan-out.
package engine

import (
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/schedule"
)

// Outcome is the persistable result of applying an event.
type Outcome struct {
	Status escrow.Status

	// Deadline and Scheduled describe the automatic transition pending
	// after this one, if any. They always satisfy the scheduling
	// invariant: Scheduled iff Deadline non-nil.
	Deadline  *time.Time
	Scheduled bool

	TrackingNumber  string
	ShippingCarrier string

	History       escrow.HistoryEntry
	Notifications []escrow.Notification
}

// Engine validates events against the transition table and derives the
// follow-up schedule.
type Engine struct {
	scheduler *schedule.Scheduler
}

// New builds an engine over the given scheduler.
func New(scheduler *schedule.Scheduler) *Engine {
	return &Engine{scheduler: scheduler}
}

// Apply computes the outcome of an event against a snapshot. It never
// mutates the snapshot. An InvalidTransitionError means the event must not
// be persisted; for timeout events the caller logs and skips.
func (e *Engine) Apply(txn escrow.Transaction, ev escrow.Event) (Outcome, error) {
	switch ev.Kind {
	case escrow.EventTimeoutFired:
		return e.applyTimeout(txn, ev)
	default:
		return e.applyUserAction(txn, ev)
	}
}

func (e *Engine) applyUserAction(txn escrow.Transaction, ev escrow.Event) (Outcome, error) {
	to := ev.RequestedStatus
	if err := escrow.ValidateUserTransition(txn, ev.Actor, to); err != nil {
		return Outcome{}, err
	}

	tracking := txn.TrackingNumber
	carrier := txn.ShippingCarrier
	if to == escrow.StatusShipped {
		if ev.TrackingNumber == "" || ev.ShippingCarrier == "" {
			return Outcome{}, &escrow.MissingShippingInfoError{TransactionID: txn.ID}
		}
		tracking = ev.TrackingNumber
		carrier = ev.ShippingCarrier
	}

	out := Outcome{
		Status:          to,
		TrackingNumber:  tracking,
		ShippingCarrier: carrier,
		History: escrow.HistoryEntry{
			TransactionID: txn.ID,
			Status:        to,
			Actor:         ev.Actor.Label(),
			Notes:         ev.Notes,
			RecordedAt:    ev.Now,
		},
	}
	e.scheduleFollowUp(&out, ev.Now)

	notified := txn
	notified.TrackingNumber = tracking
	notified.ShippingCarrier = carrier
	out.Notifications = escrow.NotificationsFor(notified, txn.Status, to, false)
	return out, nil
}

func (e *Engine) applyTimeout(txn escrow.Transaction, ev escrow.Event) (Outcome, error) {
	to, ok := escrow.AutoTarget(txn.Status)
	if !ok {
		return Outcome{}, &escrow.InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			Reason:        "status does not auto-advance",
		}
	}
	if txn.NextAutoTransitionAt == nil || !txn.IsAutoTransitionScheduled {
		return Outcome{}, &escrow.InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			To:            to,
			Reason:        "no automatic transition scheduled",
		}
	}
	if txn.NextAutoTransitionAt.After(ev.Now) {
		return Outcome{}, &escrow.InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			To:            to,
			Reason:        "deadline has not elapsed",
		}
	}

	out := Outcome{
		Status:          to,
		TrackingNumber:  txn.TrackingNumber,
		ShippingCarrier: txn.ShippingCarrier,
		History: escrow.HistoryEntry{
			TransactionID: txn.ID,
			Status:        to,
			Actor:         escrow.SystemActor.Label(),
			Notes:         "automatic transition: " + string(txn.Status) + " timeout elapsed",
			RecordedAt:    ev.Now,
		},
	}
	e.scheduleFollowUp(&out, ev.Now)
	out.Notifications = escrow.NotificationsFor(txn, txn.Status, to, true)
	return out, nil
}

// scheduleFollowUp fills the scheduling fields for the outcome's new
// status. The new status enters at now, so the deadline derives from now.
func (e *Engine) scheduleFollowUp(out *Outcome, now time.Time) {
	if deadline, ok := e.scheduler.Next(out.Status, now); ok {
		out.Deadline = &deadline
		out.Scheduled = true
	}
}
