package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/safetrade/escrowd/internal/clock"
	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/notify"
	"github.com/safetrade/escrowd/internal/store"
)

// userRetries is how many times a user-driven transition re-reads and
// retries after losing a compare-and-swap race before giving up.
const userRetries = 2

// Transitioner drives the read / apply / compare-and-swap loop around the
// pure engine and forwards notifications after a commit.
type Transitioner struct {
	store    *store.Store
	engine   *Engine
	notifier notify.Notifier
	clock    clock.Clock
	ids      IDGenerator
	logger   *slog.Logger
}

// NewTransitioner wires the engine to its collaborators.
func NewTransitioner(st *store.Store, eng *Engine, notifier notify.Notifier, clk clock.Clock, ids IDGenerator, logger *slog.Logger) *Transitioner {
	return &Transitioner{
		store:    st,
		engine:   eng,
		notifier: notifier,
		clock:    clk,
		ids:      ids,
		logger:   logger,
	}
}

// CreateParams are the caller-supplied fields of a new transaction.
type CreateParams struct {
	BuyerID    string
	SellerID   string
	PriceCents int64
	Quantity   int64
}

// Create inserts a new transaction in pending_payment with no schedule.
func (t *Transitioner) Create(ctx context.Context, p CreateParams) (escrow.Transaction, error) {
	if p.BuyerID == "" || p.SellerID == "" {
		return escrow.Transaction{}, fmt.Errorf("create: buyer and seller are required")
	}
	if p.PriceCents <= 0 {
		return escrow.Transaction{}, fmt.Errorf("create: price must be positive")
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}

	now := t.clock.Now()
	txn := escrow.Transaction{
		ID:         t.ids.Generate(),
		Status:     escrow.StatusPendingPayment,
		BuyerID:    p.BuyerID,
		SellerID:   p.SellerID,
		PriceCents: p.PriceCents,
		Quantity:   p.Quantity,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := t.store.Create(ctx, txn); err != nil {
		return escrow.Transaction{}, err
	}

	t.logger.InfoContext(ctx, "transaction created",
		"transaction", txn.ID,
		"buyer", txn.BuyerID,
		"seller", txn.SellerID,
	)
	return txn, nil
}

// TransitionParams carry the optional fields of a user transition.
type TransitionParams struct {
	Notes           string
	TrackingNumber  string
	ShippingCarrier string
}

// UserTransition applies a user-requested status change. Validation
// errors (invalid edge, wrong role, missing shipping info) come back
// as-is. A lost CAS race is retried against a fresh snapshot up to
// userRetries times, since the transition may still be valid from the
// new status; after that the conflict surfaces to the caller.
func (t *Transitioner) UserTransition(ctx context.Context, id string, actor escrow.Actor, to escrow.Status, p TransitionParams) (escrow.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt <= userRetries; attempt++ {
		txn, err := t.store.Read(ctx, id)
		if err != nil {
			return escrow.Transaction{}, err
		}

		ev := escrow.UserAction(actor, to, t.clock.Now())
		ev.Notes = p.Notes
		ev.TrackingNumber = p.TrackingNumber
		ev.ShippingCarrier = p.ShippingCarrier

		out, err := t.engine.Apply(txn, ev)
		if err != nil {
			return escrow.Transaction{}, err
		}

		err = t.store.CompareAndSwap(ctx, id, txn.Version, store.Update{
			Status:                    out.Status,
			TrackingNumber:            out.TrackingNumber,
			ShippingCarrier:           out.ShippingCarrier,
			NextAutoTransitionAt:      out.Deadline,
			IsAutoTransitionScheduled: out.Scheduled,
			UpdatedAt:                 ev.Now,
			History:                   out.History,
		})
		if errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			t.logger.WarnContext(ctx, "transition lost race, retrying",
				"transaction", id,
				"to", string(to),
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return escrow.Transaction{}, err
		}

		t.logger.InfoContext(ctx, "transition applied",
			"transaction", id,
			"from", string(txn.Status),
			"to", string(out.Status),
			"actor", ev.Actor.Label(),
		)
		t.deliver(ctx, out.Notifications)

		// Mirror the committed write instead of re-reading: a fresh read
		// could already reflect a later concurrent writer.
		txn.Status = out.Status
		txn.TrackingNumber = out.TrackingNumber
		txn.ShippingCarrier = out.ShippingCarrier
		txn.NextAutoTransitionAt = out.Deadline
		txn.IsAutoTransitionScheduled = out.Scheduled
		txn.UpdatedAt = ev.Now
		txn.Version++
		return txn, nil
	}
	return escrow.Transaction{}, fmt.Errorf("transition %s: %w", id, lastErr)
}

// FireTimeout applies the automatic transition for a due transaction.
// Returns true if the transition committed. A version conflict means a
// concurrent writer already moved the transaction, so the timeout is
// obsolete: FireTimeout reports false with no error. An invalid
// transition (not scheduled, not due, status changed underneath) is
// likewise a no-op.
func (t *Transitioner) FireTimeout(ctx context.Context, id string) (bool, error) {
	txn, err := t.store.Read(ctx, id)
	if err != nil {
		return false, err
	}

	out, err := t.engine.Apply(txn, escrow.TimeoutFired(t.clock.Now()))
	if escrow.IsInvalidTransition(err) {
		t.logger.InfoContext(ctx, "timeout obsolete, skipping",
			"transaction", id,
			"status", string(txn.Status),
			"reason", err.Error(),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = t.store.CompareAndSwap(ctx, id, txn.Version, store.Update{
		Status:                    out.Status,
		TrackingNumber:            out.TrackingNumber,
		ShippingCarrier:           out.ShippingCarrier,
		NextAutoTransitionAt:      out.Deadline,
		IsAutoTransitionScheduled: out.Scheduled,
		UpdatedAt:                 out.History.RecordedAt,
		History:                   out.History,
	})
	if errors.Is(err, store.ErrVersionConflict) {
		t.logger.InfoContext(ctx, "timeout lost race, skipping",
			"transaction", id,
			"status", string(txn.Status),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	t.logger.InfoContext(ctx, "automatic transition applied",
		"transaction", id,
		"from", string(txn.Status),
		"to", string(out.Status),
	)
	t.deliver(ctx, out.Notifications)
	return true, nil
}

// deliver forwards notifications best-effort after a commit. Failures are
// logged, never propagated: the transition already happened.
func (t *Transitioner) deliver(ctx context.Context, notifications []escrow.Notification) {
	for _, n := range notifications {
		if err := t.notifier.Notify(ctx, n); err != nil {
			t.logger.WarnContext(ctx, "notification delivery failed",
				"recipient", n.RecipientID,
				"type", n.Type,
				"error", err.Error(),
			)
		}
	}
}
