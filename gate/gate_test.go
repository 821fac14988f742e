package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ownedThing struct{ OwnerID uint }

var ownerOnly = gate.PolicyFunc(func(_ context.Context, s gate.Subject, _ gate.Action, obj any) bool {
	t, ok := obj.(*ownedThing)
	return ok && t.OwnerID == s.UserID
})

func proResolver() *gate.RoleResolver {
	return gate.NewRoleResolver(
		gate.NewRoleProfile("pro",
			gate.NewPermission(gate.ResourceEstablishment, gate.ActionCreate),
			gate.NewPermission(gate.ResourceEstablishment, gate.ActionUpdate),
			"deal:*",
		),
		gate.NewRoleProfile("admin", gate.PermissionSuperAdmin),
	)
}

func TestPermission_Matches(t *testing.T) {
	tests := []struct {
		granted   gate.Permission
		requested gate.Permission
		want      bool
	}{
		{"*:*", "deal:delete", true},
		{"deal:*", "deal:delete", true},
		{"deal:*", "establishment:delete", false},
		{"*:view", "analytics:view", true},
		{"*:view", "analytics:export", false},
		{"deal:view", "deal:view", true},
		{"deal:view", "deal:update", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.granted.Matches(tt.requested), "%s grants %s", tt.granted, tt.requested)
	}
}

func TestParsePermission(t *testing.T) {
	p, err := gate.ParsePermission(" newsletter:export ")
	require.NoError(t, err)
	assert.Equal(t, "newsletter", p.Resource())
	assert.Equal(t, gate.ActionExport, p.Action())

	for _, bad := range []string{"", "deal", ":view", "deal:", "a:b:c"} {
		_, err := gate.ParsePermission(bad)
		assert.Error(t, err, bad)
	}
}

func TestGate_Authorize(t *testing.T) {
	g := gate.New(proResolver())
	g.Register(gate.ResourceEstablishment, ownerOnly)
	ctx := context.Background()
	pro := gate.Subject{UserID: 1, Role: "pro"}

	assert.ErrorIs(t, g.Authorize(ctx, gate.Subject{}, gate.ActionCreate, gate.ResourceEstablishment, nil), gate.ErrUnauthenticated)
	assert.NoError(t, g.Authorize(ctx, pro, gate.ActionCreate, gate.ResourceEstablishment, nil))
	assert.ErrorIs(t, g.Authorize(ctx, pro, gate.ActionModerate, gate.ResourceEstablishment, nil), gate.ErrForbidden)

	assert.True(t, g.Can(ctx, pro, gate.ActionUpdate, gate.ResourceEstablishment, &ownedThing{OwnerID: 1}))
	assert.False(t, g.Can(ctx, pro, gate.ActionUpdate, gate.ResourceEstablishment, &ownedThing{OwnerID: 2}))
	assert.True(t, g.CanProfile(ctx, pro, gate.ActionUpdate, gate.ResourceEstablishment))

	assert.True(t, g.Can(ctx, pro, gate.ActionDelete, gate.ResourceDeal, nil))
	assert.False(t, g.Can(ctx, gate.Subject{UserID: 5, Role: "user"}, gate.ActionView, gate.ResourceDeal, nil))
}

func TestGate_ResolverError(t *testing.T) {
	boom := errors.New("db down")
	g := gate.New(resolverFunc(func(context.Context, gate.Subject) (gate.Profile, error) { return nil, boom }))
	err := g.Authorize(context.Background(), gate.Subject{UserID: 1}, gate.ActionView, gate.ResourceDeal, nil)
	assert.ErrorIs(t, err, boom)
}

func TestIsSuperAdmin(t *testing.T) {
	r := proResolver()
	admin, _ := r.Resolve(context.Background(), gate.Subject{UserID: 1, Role: "admin"})
	pro, _ := r.Resolve(context.Background(), gate.Subject{UserID: 1, Role: "pro"})
	assert.True(t, gate.IsSuperAdmin(admin))
	assert.False(t, gate.IsSuperAdmin(pro))
	assert.False(t, gate.IsSuperAdmin(nil))
}

type resolverFunc func(context.Context, gate.Subject) (gate.Profile, error)

func (f resolverFunc) Resolve(ctx context.Context, s gate.Subject) (gate.Profile, error) {
	return f(ctx, s)
}

func TestCachedResolver(t *testing.T) {
	calls := 0
	inner := resolverFunc(func(_ context.Context, s gate.Subject) (gate.Profile, error) {
		calls++
		return gate.NewRoleProfile(s.Role), nil
	})
	c := gate.NewCachedResolver(inner, time.Minute)
	ctx := context.Background()

	p, err := c.Resolve(ctx, gate.Subject{UserID: 1, Role: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "pro", p.Role())

	// Cached by user id: the session role is not consulted again.
	p, _ = c.Resolve(ctx, gate.Subject{UserID: 1, Role: "admin"})
	assert.Equal(t, "pro", p.Role())
	assert.Equal(t, 1, calls)

	c.Invalidate(1)
	p, _ = c.Resolve(ctx, gate.Subject{UserID: 1, Role: "admin"})
	assert.Equal(t, "admin", p.Role())
	assert.Equal(t, 2, calls)

	_, _ = c.Resolve(ctx, gate.Subject{UserID: 2, Role: "user"})
	assert.Equal(t, 2, c.Len())
	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}
