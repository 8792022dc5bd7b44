package escrow

import (
	"errors"
	"fmt"
)

// InvalidTransitionError reports a requested or derived status change that
// is not in the transition table. User-triggered callers surface it
// synchronously; timeout-fired callers log and skip, never retry, since
// the table itself defines validity.
type InvalidTransitionError struct {
	TransactionID string
	From          Status
	To            Status
	Reason        string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("invalid transition from %s: %s (transaction=%s)", e.From, e.Reason, e.TransactionID)
	}
	return fmt.Sprintf("invalid transition %s -> %s: %s (transaction=%s)", e.From, e.To, e.Reason, e.TransactionID)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
// Uses errors.As to handle wrapped errors.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// MissingShippingInfoError reports a shipped transition requested without
// tracking details.
type MissingShippingInfoError struct {
	TransactionID string
}

func (e *MissingShippingInfoError) Error() string {
	return fmt.Sprintf("shipped requires tracking number and carrier (transaction=%s)", e.TransactionID)
}
