package escrow

import "maps"

// Notification describes one message the caller should forward to the
// notifier bridge after a transition commits. The engine returns these as
// data and never invokes the notifier itself, which keeps Apply pure and
// testable.
type Notification struct {
	RecipientID string
	Type        string
	Context     map[string]string
}

// Notification types, one per destination status. The notification
// subsystem maps these to templates; this core only names them.
const (
	NotifyPaymentReceived       = "escrow.payment_received"
	NotifyItemShipped           = "escrow.item_shipped"
	NotifyItemDelivered         = "escrow.item_delivered"
	NotifyInspectionStarted     = "escrow.inspection_started"
	NotifyTransactionCompleted  = "escrow.transaction_completed"
	NotifyTransactionDisputed   = "escrow.transaction_disputed"
	NotifyTransactionCancelled  = "escrow.transaction_cancelled"
	NotifyTransactionRefunded   = "escrow.transaction_refunded"
	NotifyFundsReleased         = "escrow.funds_released"
	NotifyAutoTransitionApplied = "escrow.auto_transition_applied"
)

var notifyTypeByStatus = map[Status]string{
	StatusPaymentReceived: NotifyPaymentReceived,
	StatusShipped:         NotifyItemShipped,
	StatusDelivered:       NotifyItemDelivered,
	StatusInspection:      NotifyInspectionStarted,
	StatusCompleted:       NotifyTransactionCompleted,
	StatusDisputed:        NotifyTransactionDisputed,
	StatusCancelled:       NotifyTransactionCancelled,
	StatusRefunded:        NotifyTransactionRefunded,
	StatusFundsReleased:   NotifyFundsReleased,
}

// NotificationsFor builds the fan-out for a committed transition: both
// parties are told about every status change, and automatic transitions
// additionally flag themselves so the recipient knows nobody acted.
func NotificationsFor(txn Transaction, from, to Status, automatic bool) []Notification {
	typ, ok := notifyTypeByStatus[to]
	if !ok {
		return nil
	}

	ctx := map[string]string{
		"transaction_id": txn.ID,
		"from_status":    string(from),
		"to_status":      string(to),
	}
	if automatic {
		ctx["automatic"] = "true"
	}
	if to == StatusShipped && txn.TrackingNumber != "" {
		ctx["tracking_number"] = txn.TrackingNumber
		ctx["shipping_carrier"] = txn.ShippingCarrier
	}

	// Each recipient gets its own context map so a consumer mutating one
	// cannot leak into the other.
	return []Notification{
		{RecipientID: txn.BuyerID, Type: typ, Context: ctx},
		{RecipientID: txn.SellerID, Type: typ, Context: maps.Clone(ctx)},
	}
}
