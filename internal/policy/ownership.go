package policy

import (
	"context"

	"github.com/envie2sortir/envie2sortir/gate"
)

// Owned is implemented by models that belong to one user account:
// establishments, deals, conversations and professional accounts.
type Owned interface {
	OwnerUserID() uint
}

// OwnershipPolicy allows a subject to act on objects it owns.
type OwnershipPolicy struct{}

func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can denies objects that do not implement Owned, and objects whose owner
// is unknown (zero).
func (p *OwnershipPolicy) Can(_ context.Context, s gate.Subject, _ gate.Action, obj any) bool {
	if obj == nil {
		return true
	}
	owned, ok := obj.(Owned)
	if !ok {
		return false
	}
	owner := owned.OwnerUserID()
	return owner != 0 && owner == s.UserID
}

// AdminBypassPolicy lets admins through before consulting inner.
type AdminBypassPolicy struct {
	inner   gate.Policy
	isAdmin func(ctx context.Context, s gate.Subject) bool
}

func NewAdminBypassPolicy(inner gate.Policy, isAdmin func(ctx context.Context, s gate.Subject) bool) *AdminBypassPolicy {
	return &AdminBypassPolicy{inner: inner, isAdmin: isAdmin}
}

func (p *AdminBypassPolicy) Can(ctx context.Context, s gate.Subject, action gate.Action, obj any) bool {
	if p.isAdmin(ctx, s) {
		return true
	}
	return p.inner.Can(ctx, s, action, obj)
}
