package policy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/testutil"
)

type owned struct{ owner uint }

func (o owned) OwnerUserID() uint { return o.owner }

type notOwned struct{ ID uint }

func TestOwnershipPolicy(t *testing.T) {
	p := policy.NewOwnershipPolicy()
	ctx := context.Background()
	alice := gate.Subject{UserID: 42, Role: models.RolePro}

	tests := []struct {
		name string
		obj  any
		want bool
	}{
		{"nil object", nil, true},
		{"owner", owned{42}, true},
		{"someone else", owned{7}, false},
		{"unknown owner", owned{0}, false},
		{"not ownable", notOwned{ID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Can(ctx, alice, gate.ActionUpdate, tt.obj))
		})
	}
}

func TestAdminBypassPolicy(t *testing.T) {
	isAdmin := func(_ context.Context, s gate.Subject) bool { return s.Role == models.RoleAdmin }
	p := policy.NewAdminBypassPolicy(policy.NewOwnershipPolicy(), isAdmin)
	ctx := context.Background()

	assert.True(t, p.Can(ctx, gate.Subject{UserID: 1, Role: models.RoleAdmin}, gate.ActionDelete, owned{99}))
	assert.False(t, p.Can(ctx, gate.Subject{UserID: 1, Role: models.RolePro}, gate.ActionDelete, owned{99}))
	assert.True(t, p.Can(ctx, gate.Subject{UserID: 99, Role: models.RolePro}, gate.ActionDelete, owned{99}))
}

func TestDBRoleResolver(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	pro := testutil.CreateUser(t, conn, "pro@example.fr", models.RolePro)
	r := policy.NewDBRoleResolver(conn)

	p, err := r.Resolve(ctx, gate.Subject{UserID: pro.ID})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.RolePro, p.Role())
	assert.True(t, p.HasPermission(gate.NewPermission(gate.ResourceDeal, gate.ActionCreate)))
	assert.False(t, p.HasPermission(gate.NewPermission(gate.ResourceWaitlist, gate.ActionList)))

	p, err = r.Resolve(ctx, gate.Subject{UserID: 12345})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func serve(h http.Handler, userID uint, role string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	if userID != 0 {
		req = req.WithContext(auth.WithUser(req.Context(), userID, role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthGateMiddleware(t *testing.T) {
	conn := testutil.NewDB(t)
	ag := policy.NewPlatformGate(conn, time.Minute)
	admin := testutil.CreateUser(t, conn, "admin@example.fr", models.RoleAdmin)
	pro := testutil.CreateUser(t, conn, "pro@example.fr", models.RolePro)
	user := testutil.CreateUser(t, conn, "user@example.fr", models.RoleUser)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	adminOnly := ag.RequireAdmin()(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(adminOnly, 0, ""))
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, pro.ID, models.RolePro))
	assert.Equal(t, http.StatusOK, serve(adminOnly, admin.ID, models.RoleAdmin))

	createDeal := ag.RequirePermission(gate.ResourceDeal, gate.ActionCreate)(ok)
	assert.Equal(t, http.StatusOK, serve(createDeal, pro.ID, models.RolePro))
	assert.Equal(t, http.StatusForbidden, serve(createDeal, user.ID, models.RoleUser))

	proOrAdmin := ag.RequireRole(models.RolePro, models.RoleAdmin)(ok)
	assert.Equal(t, http.StatusOK, serve(proOrAdmin, admin.ID, models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serve(proOrAdmin, user.ID, models.RoleUser))
	assert.Equal(t, http.StatusUnauthorized, serve(proOrAdmin, 0, ""))
}

func TestAuthGateOwnership(t *testing.T) {
	conn := testutil.NewDB(t)
	ag := policy.NewPlatformGate(conn, time.Minute)
	owner, _, est := testutil.CreatePro(t, conn, "owner@example.fr", "73282932000074", "chez-paul")
	other, _, _ := testutil.CreatePro(t, conn, "other@example.fr", "35600000000048", "ailleurs")
	admin := testutil.CreateUser(t, conn, "admin@example.fr", models.RoleAdmin)
	as := func(u *models.User) context.Context {
		return auth.WithUser(context.Background(), u.ID, u.Role)
	}

	assert.NoError(t, ag.Authorize(as(owner), gate.ActionUpdate, gate.ResourceEstablishment, est))
	assert.ErrorIs(t, ag.Authorize(as(other), gate.ActionUpdate, gate.ResourceEstablishment, est), gate.ErrForbidden)
	assert.NoError(t, ag.Authorize(as(admin), gate.ActionUpdate, gate.ResourceEstablishment, est))
	assert.ErrorIs(t, ag.Authorize(context.Background(), gate.ActionView, gate.ResourceEstablishment, est), gate.ErrUnauthenticated)
}

func TestAuthGateRoleChangeNeedsInvalidation(t *testing.T) {
	conn := testutil.NewDB(t)
	ag := policy.NewPlatformGate(conn, time.Hour)
	u := testutil.CreateUser(t, conn, "lea@example.fr", models.RoleUser)
	ctx := auth.WithUser(context.Background(), u.ID, u.Role)

	assert.False(t, ag.CanProfile(ctx, gate.ActionCreate, gate.ResourceEstablishment))
	require.NoError(t, conn.Model(u).Update("role", models.RolePro).Error)
	assert.False(t, ag.CanProfile(ctx, gate.ActionCreate, gate.ResourceEstablishment))

	ag.InvalidateUser(u.ID)
	assert.True(t, ag.CanProfile(ctx, gate.ActionCreate, gate.ResourceEstablishment))
}

func TestRequirePermissionPassesStoredRole(t *testing.T) {
	conn := testutil.NewDB(t)
	ag := policy.NewPlatformGate(conn, time.Minute)
	u := testutil.CreateUser(t, conn, "ex-admin@example.fr", models.RolePro)

	var seen string
	h := ag.RequirePermission(gate.ResourceConversation, gate.ActionList)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// the session still claims admin
	assert.Equal(t, http.StatusOK, serve(h, u.ID, models.RoleAdmin))
	assert.Equal(t, models.RolePro, seen)

	s, err := ag.ResolvedSubject(auth.WithUser(context.Background(), u.ID, models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, gate.Subject{UserID: u.ID, Role: models.RolePro}, s)
}
