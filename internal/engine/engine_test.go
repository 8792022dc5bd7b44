package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/schedule"
)

func newTestEngine() *Engine {
	return New(schedule.New(schedule.DefaultWindows()))
}

func snapshotIn(status escrow.Status, enteredAt time.Time) escrow.Transaction {
	return escrow.Transaction{
		ID:        "txn-1",
		Status:    status,
		BuyerID:   "u-buyer",
		SellerID:  "u-seller",
		Version:   3,
		CreatedAt: enteredAt.Add(-time.Hour),
		UpdatedAt: enteredAt,
	}
}

func TestApplyUserAction(t *testing.T) {
	eng := newTestEngine()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	txn := snapshotIn(escrow.StatusPendingPayment, now.Add(-time.Hour))

	ev := escrow.UserAction(escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}, escrow.StatusPaymentReceived, now)
	ev.Notes = "paid by card"

	out, err := eng.Apply(txn, ev)
	require.NoError(t, err)

	assert.Equal(t, escrow.StatusPaymentReceived, out.Status)
	// payment_received never auto-advances.
	assert.False(t, out.Scheduled)
	assert.Nil(t, out.Deadline)

	assert.Equal(t, "buyer:u-buyer", out.History.Actor)
	assert.Equal(t, "paid by card", out.History.Notes)
	assert.Equal(t, now, out.History.RecordedAt)

	require.Len(t, out.Notifications, 2)
	assert.Equal(t, escrow.NotifyPaymentReceived, out.Notifications[0].Type)
}

func TestApplyUserActionRejectsBadEdge(t *testing.T) {
	eng := newTestEngine()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	txn := snapshotIn(escrow.StatusPendingPayment, now)

	_, err := eng.Apply(txn, escrow.UserAction(escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}, escrow.StatusShipped, now))
	require.Error(t, err)
	assert.True(t, escrow.IsInvalidTransition(err))
}

func TestApplyShippedRequiresTracking(t *testing.T) {
	eng := newTestEngine()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	txn := snapshotIn(escrow.StatusPaymentReceived, now)
	seller := escrow.Actor{ID: "u-seller", Role: escrow.RoleSeller}

	_, err := eng.Apply(txn, escrow.UserAction(seller, escrow.StatusShipped, now))
	var missing *escrow.MissingShippingInfoError
	require.ErrorAs(t, err, &missing)

	ev := escrow.UserAction(seller, escrow.StatusShipped, now)
	ev.TrackingNumber = "1Z999"
	ev.ShippingCarrier = "ups"

	out, err := eng.Apply(txn, ev)
	require.NoError(t, err)
	assert.Equal(t, "1Z999", out.TrackingNumber)
	assert.Equal(t, "ups", out.ShippingCarrier)

	// shipped auto-advances, deadline derives from the event instant.
	require.True(t, out.Scheduled)
	require.NotNil(t, out.Deadline)
	assert.Equal(t, now.Add(schedule.DefaultShippedWindow), *out.Deadline)

	// Tracking propagates into the notification context.
	require.Len(t, out.Notifications, 2)
	assert.Equal(t, "1Z999", out.Notifications[0].Context["tracking_number"])
}

func TestApplyTimeout(t *testing.T) {
	eng := newTestEngine()
	entered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := entered.Add(schedule.DefaultShippedWindow)

	txn := snapshotIn(escrow.StatusShipped, entered)
	txn.NextAutoTransitionAt = &deadline
	txn.IsAutoTransitionScheduled = true

	out, err := eng.Apply(txn, escrow.TimeoutFired(deadline.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, escrow.StatusDelivered, out.Status)
	assert.Equal(t, "system:timeout", out.History.Actor)

	// delivered auto-advances in turn: the follow-up deadline derives
	// from the firing instant.
	require.True(t, out.Scheduled)
	require.NotNil(t, out.Deadline)
	assert.Equal(t, deadline.Add(time.Minute).Add(schedule.DefaultDeliveredWindow), *out.Deadline)

	require.Len(t, out.Notifications, 2)
	assert.Equal(t, "true", out.Notifications[0].Context["automatic"])
}

func TestApplyTimeoutNotDue(t *testing.T) {
	eng := newTestEngine()
	entered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := entered.Add(schedule.DefaultShippedWindow)

	txn := snapshotIn(escrow.StatusShipped, entered)
	txn.NextAutoTransitionAt = &deadline
	txn.IsAutoTransitionScheduled = true

	_, err := eng.Apply(txn, escrow.TimeoutFired(deadline.Add(-time.Minute)))
	require.Error(t, err)
	assert.True(t, escrow.IsInvalidTransition(err))
}

func TestApplyTimeoutUnscheduled(t *testing.T) {
	eng := newTestEngine()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	txn := snapshotIn(escrow.StatusShipped, now.Add(-200*time.Hour))

	_, err := eng.Apply(txn, escrow.TimeoutFired(now))
	require.Error(t, err)
	assert.True(t, escrow.IsInvalidTransition(err))
}

func TestApplyTimeoutOnNonAutoStatus(t *testing.T) {
	eng := newTestEngine()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	txn := snapshotIn(escrow.StatusDisputed, now.Add(-time.Hour))

	_, err := eng.Apply(txn, escrow.TimeoutFired(now))
	require.Error(t, err)
	assert.True(t, escrow.IsInvalidTransition(err))
}

func TestApplyFinalAutoHopEndsUnscheduled(t *testing.T) {
	eng := newTestEngine()
	entered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := entered.Add(schedule.DefaultCompletedWindow)

	txn := snapshotIn(escrow.StatusCompleted, entered)
	txn.NextAutoTransitionAt = &deadline
	txn.IsAutoTransitionScheduled = true

	out, err := eng.Apply(txn, escrow.TimeoutFired(deadline))
	require.NoError(t, err)

	assert.Equal(t, escrow.StatusFundsReleased, out.Status)
	assert.False(t, out.Scheduled)
	assert.Nil(t, out.Deadline)
}
