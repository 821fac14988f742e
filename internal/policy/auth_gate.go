package policy

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/httpx"
)

// AuthGate is the application's authorization entry point: a gate backed
// by the roles table behind a TTL cache.
type AuthGate struct {
	Gate          *gate.Gate
	CacheResolver *gate.CachedResolver
}

func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver(NewDBRoleResolver(db), cacheTTL)
	return &AuthGate{Gate: gate.New(cached), CacheResolver: cached}
}

func (ag *AuthGate) RegisterPolicy(resource string, p gate.Policy) {
	ag.Gate.Register(resource, p)
}

// Subject reads the caller from the request context.
func Subject(ctx context.Context) gate.Subject {
	uid, _ := auth.UserIDFromContext(ctx)
	return gate.Subject{UserID: uid, Role: auth.RoleFromContext(ctx)}
}

// ResolvedSubject is the caller with the role currently stored on the user
// row; the session role may predate a role change. A user without a profile
// gets an empty role.
func (ag *AuthGate) ResolvedSubject(ctx context.Context) (gate.Subject, error) {
	s := Subject(ctx)
	if s.Anonymous() {
		return s, nil
	}
	p, err := ag.CacheResolver.Resolve(ctx, s)
	if err != nil {
		return s, err
	}
	s.Role = ""
	if p != nil {
		s.Role = p.Role()
	}
	return s, nil
}

// withResolved stores the resolved role in the request for the handlers.
func (ag *AuthGate) withResolved(r *http.Request) (*http.Request, error) {
	s, err := ag.ResolvedSubject(r.Context())
	if err != nil {
		return nil, err
	}
	return r.WithContext(auth.WithUser(r.Context(), s.UserID, s.Role)), nil
}

// Authorize checks the caller's role permission and, for a non-nil obj, the
// resource policy.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resource string, obj any) error {
	return ag.Gate.Authorize(ctx, Subject(ctx), action, resource, obj)
}

func (ag *AuthGate) Can(ctx context.Context, action gate.Action, resource string, obj any) bool {
	return ag.Authorize(ctx, action, resource, obj) == nil
}

func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resource string) bool {
	return ag.Gate.CanProfile(ctx, Subject(ctx), action, resource)
}

// IsAdmin reports whether the subject's profile holds "*:*".
func (ag *AuthGate) IsAdmin(ctx context.Context, s gate.Subject) bool {
	if s.Anonymous() {
		return false
	}
	p, err := ag.CacheResolver.Resolve(ctx, s)
	return err == nil && gate.IsSuperAdmin(p)
}

// InvalidateUser drops a user's cached profile after a role change.
func (ag *AuthGate) InvalidateUser(userID uint) {
	ag.CacheResolver.Invalidate(userID)
}

func (ag *AuthGate) InvalidateAll() {
	ag.CacheResolver.InvalidateAll()
}

// Deny writes the JSON answer for an authorization error.
func Deny(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrUnauthenticated):
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, gate.ErrForbidden):
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

// RequirePermission checks the role permission only; ownership is checked
// by the handler once the object is loaded.
func (ag *AuthGate) RequirePermission(resource string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ag.Authorize(r.Context(), action, resource, nil); err != nil {
				Deny(w, err)
				return
			}
			r, err := ag.withResolved(r)
			if err != nil {
				Deny(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits the listed roles as stored on the user row.
func (ag *AuthGate) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := Subject(r.Context())
			if s.Anonymous() {
				Deny(w, gate.ErrUnauthenticated)
				return
			}
			p, err := ag.CacheResolver.Resolve(r.Context(), s)
			if err != nil {
				Deny(w, err)
				return
			}
			if p == nil || !slices.Contains(roles, p.Role()) {
				Deny(w, gate.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), s.UserID, p.Role())))
		})
	}
}

// RequireAdmin admits superadmins ("*:*") only.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := Subject(r.Context())
			if s.Anonymous() {
				Deny(w, gate.ErrUnauthenticated)
				return
			}
			if !ag.IsAdmin(r.Context(), s) {
				Deny(w, gate.ErrForbidden)
				return
			}
			r, err := ag.withResolved(r)
			if err != nil {
				Deny(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
