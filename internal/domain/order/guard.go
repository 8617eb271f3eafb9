package order

import "github.com/medsupply/portal/internal/platform/auth"

// Decision is the result of CanEdit.
type Decision struct {
	Allowed bool
	Code    DenialCode
	Reason  string
}

// Err is nil when allowed, a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Code: d.Code, Reason: d.Reason}
}

func deny(code DenialCode, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// CanEdit decides whether actor may mutate o. The checks run in a fixed
// order so the reported reason is stable: superadmin, ownership, lock,
// review status.
func CanEdit(o *Order, actor auth.Actor) Decision {
	if actor.IsSuperadmin() {
		return Decision{Allowed: true}
	}
	if o.UserID != actor.ID {
		return deny(DenyNotOwner, "You do not have permission to edit this order")
	}
	if o.LockedAt != nil {
		return deny(DenyLocked, "This order has been locked and cannot be edited")
	}
	if !o.ReviewStatus.Editable() {
		return deny(DenyBadState, "This order cannot be edited in its current status: "+string(o.ReviewStatus))
	}
	return Decision{Allowed: true}
}

// CanView allows the owner and admins to read an order and its ledger.
func CanView(o *Order, actor auth.Actor) bool {
	return actor.IsAdmin() || o.UserID == actor.ID
}
