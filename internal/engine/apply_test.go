package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrade/escrowd/internal/clock"
	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/notify"
	"github.com/safetrade/escrowd/internal/schedule"
	"github.com/safetrade/escrowd/internal/store"
)

type transitionerFixture struct {
	store        *store.Store
	clock        *clock.Manual
	recorder     *notify.Recorder
	transitioner *Transitioner
}

func newFixture(t *testing.T) *transitionerFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	recorder := &notify.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(schedule.New(schedule.DefaultWindows()))
	tr := NewTransitioner(st, eng, recorder, clk, NewFixedGenerator("txn-1", "txn-2"), logger)

	return &transitionerFixture{store: st, clock: clk, recorder: recorder, transitioner: tr}
}

func (f *transitionerFixture) create(t *testing.T) escrow.Transaction {
	t.Helper()
	txn, err := f.transitioner.Create(context.Background(), CreateParams{
		BuyerID:    "u-buyer",
		SellerID:   "u-seller",
		PriceCents: 15000,
	})
	require.NoError(t, err)
	return txn
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	txn := f.create(t)

	assert.Equal(t, "txn-1", txn.ID)
	assert.Equal(t, escrow.StatusPendingPayment, txn.Status)
	assert.Equal(t, int64(1), txn.Version)
	assert.Equal(t, int64(1), txn.Quantity) // defaulted
	assert.False(t, txn.IsAutoTransitionScheduled)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.transitioner.Create(ctx, CreateParams{SellerID: "u-seller", PriceCents: 100})
	assert.Error(t, err)

	_, err = f.transitioner.Create(ctx, CreateParams{BuyerID: "u-buyer", SellerID: "u-seller", PriceCents: 0})
	assert.Error(t, err)
}

func TestFullLifecycleThroughTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}
	seller := escrow.Actor{ID: "u-seller", Role: escrow.RoleSeller}

	txn := f.create(t)

	// Buyer pays.
	txn, err := f.transitioner.UserTransition(ctx, txn.ID, buyer, escrow.StatusPaymentReceived, TransitionParams{})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPaymentReceived, txn.Status)
	assert.False(t, txn.IsAutoTransitionScheduled)

	// Seller ships; the delivery deadline is scheduled.
	shippedAt := f.clock.Now()
	txn, err = f.transitioner.UserTransition(ctx, txn.ID, seller, escrow.StatusShipped, TransitionParams{
		TrackingNumber:  "1Z999",
		ShippingCarrier: "ups",
	})
	require.NoError(t, err)
	require.NotNil(t, txn.NextAutoTransitionAt)
	assert.Equal(t, shippedAt.Add(schedule.DefaultShippedWindow), *txn.NextAutoTransitionAt)

	// Deadline elapses; timeout moves shipped -> delivered.
	f.clock.Advance(schedule.DefaultShippedWindow + time.Minute)
	applied, err := f.transitioner.FireTimeout(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	txn, err = f.store.Read(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDelivered, txn.Status)
	require.NotNil(t, txn.NextAutoTransitionAt)
	assert.Equal(t, f.clock.Now().Add(schedule.DefaultDeliveredWindow), *txn.NextAutoTransitionAt)

	// Chain the remaining auto hops to funds_released.
	for _, want := range []escrow.Status{escrow.StatusInspection, escrow.StatusCompleted, escrow.StatusFundsReleased} {
		txn, err = f.store.Read(ctx, txn.ID)
		require.NoError(t, err)
		require.NotNil(t, txn.NextAutoTransitionAt)

		f.clock.Set(txn.NextAutoTransitionAt.Add(time.Minute))
		applied, err = f.transitioner.FireTimeout(ctx, txn.ID)
		require.NoError(t, err)
		require.True(t, applied)

		txn, err = f.store.Read(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, want, txn.Status)
	}

	// Terminal: no schedule remains.
	assert.False(t, txn.IsAutoTransitionScheduled)
	assert.Nil(t, txn.NextAutoTransitionAt)

	// The history records every hop in order.
	history, err := f.store.History(ctx, txn.ID)
	require.NoError(t, err)
	statuses := make([]escrow.Status, len(history))
	for i, e := range history {
		statuses[i] = e.Status
	}
	assert.Equal(t, []escrow.Status{
		escrow.StatusPendingPayment,
		escrow.StatusPaymentReceived,
		escrow.StatusShipped,
		escrow.StatusDelivered,
		escrow.StatusInspection,
		escrow.StatusCompleted,
		escrow.StatusFundsReleased,
	}, statuses)

	// Both parties were notified about every hop past creation.
	assert.Len(t, f.recorder.Sent(), 12)
}

func TestFireTimeoutNotDueIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}
	seller := escrow.Actor{ID: "u-seller", Role: escrow.RoleSeller}

	txn := f.create(t)
	_, err := f.transitioner.UserTransition(ctx, txn.ID, buyer, escrow.StatusPaymentReceived, TransitionParams{})
	require.NoError(t, err)
	_, err = f.transitioner.UserTransition(ctx, txn.ID, seller, escrow.StatusShipped, TransitionParams{
		TrackingNumber: "1Z999", ShippingCarrier: "ups",
	})
	require.NoError(t, err)

	// Deadline not elapsed yet.
	applied, err := f.transitioner.FireTimeout(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := f.store.Read(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusShipped, got.Status)
}

func TestFireTimeoutOnUnscheduledIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.create(t)

	applied, err := f.transitioner.FireTimeout(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUserTransitionRejectionsDoNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.create(t)

	// Wrong role.
	_, err := f.transitioner.UserTransition(ctx, txn.ID,
		escrow.Actor{ID: "u-seller", Role: escrow.RoleSeller}, escrow.StatusShipped, TransitionParams{})
	require.Error(t, err)
	assert.True(t, escrow.IsInvalidTransition(err))

	got, err := f.store.Read(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPendingPayment, got.Status)
	assert.Equal(t, int64(1), got.Version)

	history, err := f.store.History(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Empty(t, f.recorder.Sent())
}

// raceClock lets a test commit a competing write inside the window
// between a Transitioner's read and its compare-and-swap: the event
// timestamp is taken after the read, so the hook lands exactly there.
type raceClock struct {
	clock.Clock
	hook func()
}

func (c *raceClock) Now() time.Time {
	if c.hook != nil {
		c.hook()
	}
	return c.Clock.Now()
}

// ship drives a fresh transaction to shipped and returns its snapshot.
func (f *transitionerFixture) ship(t *testing.T) escrow.Transaction {
	t.Helper()
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}
	seller := escrow.Actor{ID: "u-seller", Role: escrow.RoleSeller}

	txn := f.create(t)
	_, err := f.transitioner.UserTransition(ctx, txn.ID, buyer, escrow.StatusPaymentReceived, TransitionParams{})
	require.NoError(t, err)
	shipped, err := f.transitioner.UserTransition(ctx, txn.ID, seller, escrow.StatusShipped, TransitionParams{
		TrackingNumber: "1Z999", ShippingCarrier: "ups",
	})
	require.NoError(t, err)
	f.recorder.Reset()
	return shipped
}

// raced builds a second Transitioner over the fixture's store whose clock
// runs hook before stamping each event.
func (f *transitionerFixture) raced(hook func()) *Transitioner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(schedule.New(schedule.DefaultWindows()))
	return NewTransitioner(f.store, eng, f.recorder, &raceClock{Clock: f.clock, hook: hook}, NewFixedGenerator(), logger)
}

func TestUserTransitionRetriesAfterLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}

	shipped := f.ship(t)

	// A schedule repair bumps the version after the buyer's read. The
	// first swap misses; the retry re-reads and wins because the edge is
	// still valid.
	var raced bool
	tr := f.raced(func() {
		if raced {
			return
		}
		raced = true
		require.NoError(t, f.store.CompareAndSwapSchedule(ctx, shipped.ID, shipped.Version, shipped.NextAutoTransitionAt, true))
	})

	got, err := tr.UserTransition(ctx, shipped.ID, buyer, escrow.StatusDelivered, TransitionParams{})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDelivered, got.Status)
	assert.Equal(t, shipped.Version+2, got.Version) // repair write + transition

	// The returned snapshot mirrors exactly what was committed.
	fresh, err := f.store.Read(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	// Delivered exactly once despite the retry.
	assert.Len(t, f.recorder.Sent(), 2)
}

func TestUserTransitionSurfacesPersistentConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}

	shipped := f.ship(t)

	// Every attempt loses its race: a competing writer bumps the version
	// between each read and swap.
	tr := f.raced(func() {
		fresh, err := f.store.Read(ctx, shipped.ID)
		require.NoError(t, err)
		require.NoError(t, f.store.CompareAndSwapSchedule(ctx, fresh.ID, fresh.Version, fresh.NextAutoTransitionAt, true))
	})

	_, err := tr.UserTransition(ctx, shipped.ID, buyer, escrow.StatusDelivered, TransitionParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	// The loser committed nothing.
	got, err := f.store.Read(ctx, shipped.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusShipped, got.Status)
	assert.Empty(t, f.recorder.Sent())
}

func TestFireTimeoutConflictIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}

	shipped := f.ship(t)
	f.clock.Advance(schedule.DefaultShippedWindow + time.Minute)

	// The buyer disputes between the timeout's read and its swap. The
	// swap misses and the timeout quietly yields to the user action.
	var raced bool
	tr := f.raced(func() {
		if raced {
			return
		}
		raced = true
		_, err := f.transitioner.UserTransition(ctx, shipped.ID, buyer, escrow.StatusDisputed, TransitionParams{})
		require.NoError(t, err)
	})

	applied, err := tr.FireTimeout(ctx, shipped.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := f.store.Read(ctx, shipped.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, got.Status)
	assert.False(t, got.IsAutoTransitionScheduled)
	assert.Nil(t, got.NextAutoTransitionAt)

	// Only the dispute fan-out went out.
	for _, n := range f.recorder.Sent() {
		assert.Equal(t, escrow.NotifyTransactionDisputed, n.Type)
	}
}

func TestFireTimeoutObsoleteAfterUserDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}

	shipped := f.ship(t)

	// Deadline elapses, but the buyer disputes before the fire job gets
	// to the row.
	f.clock.Advance(schedule.DefaultShippedWindow + time.Minute)
	_, err := f.transitioner.UserTransition(ctx, shipped.ID, buyer, escrow.StatusDisputed, TransitionParams{})
	require.NoError(t, err)

	applied, err := f.transitioner.FireTimeout(ctx, shipped.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := f.store.Read(ctx, shipped.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, got.Status)
	assert.Nil(t, got.NextAutoTransitionAt)
}

func TestUserTransitionNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.transitioner.UserTransition(context.Background(), "missing",
		escrow.Actor{ID: "u-buyer", Role: escrow.RoleBuyer}, escrow.StatusPaymentReceived, TransitionParams{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
