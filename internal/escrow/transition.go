package escrow

// edge is one permitted transition out of a status.
type edge struct {
	to Status

	// roles that may request this edge as a user action. Staff may take
	// any edge regardless of this list.
	roles []Role

	// auto marks the edge taken when the status's deadline elapses. At
	// most one edge per status is auto.
	auto bool
}

// transitionTable is the fixed directed graph of the escrow lifecycle.
// Terminal statuses have no outgoing edges; the table is never mutated at
// runtime.
var transitionTable = map[Status][]edge{
	StatusPendingPayment: {
		{to: StatusPaymentReceived, roles: []Role{RoleBuyer, RoleSeller}},
		{to: StatusCancelled, roles: []Role{RoleBuyer, RoleSeller}},
	},
	StatusPaymentReceived: {
		{to: StatusShipped, roles: []Role{RoleSeller}},
		{to: StatusDisputed, roles: []Role{RoleBuyer, RoleSeller}},
		{to: StatusCancelled, roles: []Role{RoleBuyer, RoleSeller}},
	},
	StatusShipped: {
		{to: StatusDelivered, roles: []Role{RoleBuyer}, auto: true},
		{to: StatusDisputed, roles: []Role{RoleBuyer, RoleSeller}},
	},
	StatusDelivered: {
		{to: StatusInspection, roles: []Role{RoleBuyer}, auto: true},
		{to: StatusDisputed, roles: []Role{RoleBuyer, RoleSeller}},
	},
	StatusInspection: {
		{to: StatusCompleted, roles: []Role{RoleBuyer}, auto: true},
		{to: StatusDisputed, roles: []Role{RoleBuyer, RoleSeller}},
	},
	StatusDisputed: {
		// Resolution edges are staff-only: roles is empty and the staff
		// override in allowedFor is the only way through.
		{to: StatusRefunded},
		{to: StatusCancelled},
		{to: StatusCompleted},
	},
	StatusCompleted: {
		{to: StatusFundsReleased, roles: []Role{RoleSeller}, auto: true},
	},
	StatusCancelled:     {},
	StatusRefunded:      {},
	StatusFundsReleased: {},
}

// AutoTarget returns the status an automatic transition moves from into,
// and whether from auto-advances at all.
func AutoTarget(from Status) (Status, bool) {
	for _, e := range transitionTable[from] {
		if e.auto {
			return e.to, true
		}
	}
	return "", false
}

// AutoAdvancing reports whether a status has a pending-deadline edge. The
// scheduler only assigns deadlines to auto-advancing statuses, and the
// validator flags schedules found anywhere else.
func AutoAdvancing(s Status) bool {
	_, ok := AutoTarget(s)
	return ok
}

// AutoAdvancingStatuses returns the set of statuses with an automatic
// edge, in lifecycle order.
func AutoAdvancingStatuses() []Status {
	var out []Status
	for _, s := range AllStatuses {
		if AutoAdvancing(s) {
			out = append(out, s)
		}
	}
	return out
}

// ValidateUserTransition checks a requested user edge against the table
// and the actor's role. Returns nil if the edge is permitted.
func ValidateUserTransition(txn Transaction, actor Actor, to Status) error {
	if !to.Valid() {
		return &InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			To:            to,
			Reason:        "unknown status",
		}
	}
	if txn.Status.Terminal() {
		return &InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			To:            to,
			Reason:        "transaction is in a terminal status",
		}
	}

	for _, e := range transitionTable[txn.Status] {
		if e.to != to {
			continue
		}
		if allowedFor(e, actor) {
			return nil
		}
		return &InvalidTransitionError{
			TransactionID: txn.ID,
			From:          txn.Status,
			To:            to,
			Reason:        "not permitted for role " + string(actor.Role),
		}
	}

	return &InvalidTransitionError{
		TransactionID: txn.ID,
		From:          txn.Status,
		To:            to,
		Reason:        "no such edge in the transition table",
	}
}

func allowedFor(e edge, actor Actor) bool {
	if actor.Role == RoleStaff {
		return true
	}
	for _, r := range e.roles {
		if r == actor.Role {
			return true
		}
	}
	return false
}
