package policy

import (
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/gate"
)

// OwnedResources are checked against the owner's user id once loaded.
var OwnedResources = []string{
	gate.ResourceEstablishment,
	gate.ResourceDeal,
	gate.ResourceConversation,
	gate.ResourceAnalytics,
}

// NewPlatformGate returns the gate used by the router: role permissions
// from the database cached for cacheTTL, and an ownership policy with an
// admin bypass on every owned resource.
//
//	ag := policy.NewPlatformGate(db, 5*time.Minute)
//	mux.Handle("POST /api/pro/establishments",
//		auth.RequireAuth(ag.RequirePermission(gate.ResourceEstablishment, gate.ActionCreate)(h)))
//
// Handlers call ag.Authorize(ctx, gate.ActionUpdate, gate.ResourceEstablishment, est)
// after loading the object.
func NewPlatformGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	ag := NewAuthGate(db, cacheTTL)
	owned := NewAdminBypassPolicy(NewOwnershipPolicy(), ag.IsAdmin)
	for _, resource := range OwnedResources {
		ag.RegisterPolicy(resource, owned)
	}
	return ag
}
