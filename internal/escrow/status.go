package escrow

// Status is the lifecycle state of an escrow transaction.
type Status string

const (
	// StatusPendingPayment is the initial state: transaction created,
	// awaiting payment confirmation.
	StatusPendingPayment Status = "pending_payment"

	// StatusPaymentReceived means funds are held in escrow and the seller
	// must ship.
	StatusPaymentReceived Status = "payment_received"

	// StatusShipped means the item is in transit. Auto-advances to
	// delivered when the shipping window elapses without buyer
	// confirmation.
	StatusShipped Status = "shipped"

	// StatusDelivered means delivery is confirmed; a grace period runs
	// before inspection starts automatically.
	StatusDelivered Status = "delivered"

	// StatusInspection means the buyer is inspecting the item.
	// Auto-completes when the inspection window elapses.
	StatusInspection Status = "inspection"

	// StatusCompleted means the deal closed successfully. The only
	// remaining edge is funds_released.
	StatusCompleted Status = "completed"

	// StatusDisputed means a dispute was filed; resolution is manual.
	StatusDisputed Status = "disputed"

	// StatusCancelled, StatusRefunded and StatusFundsReleased are
	// immutable terminal states.
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
	StatusFundsReleased Status = "funds_released"
)

// AllStatuses lists every valid status, in lifecycle order.
var AllStatuses = []Status{
	StatusPendingPayment,
	StatusPaymentReceived,
	StatusShipped,
	StatusDelivered,
	StatusInspection,
	StatusCompleted,
	StatusDisputed,
	StatusCancelled,
	StatusRefunded,
	StatusFundsReleased,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is immutable: no transition out of a terminal
// status may ever succeed.
//
// Note that completed is NOT terminal — it admits exactly one further edge
// (funds_released), after which the transaction is frozen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusRefunded, StatusFundsReleased:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }
