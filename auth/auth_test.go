package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSecret(t *testing.T, s string) {
	t.Helper()
	SetSecret(s)
	t.Cleanup(func() { SetSecret("") })
}

func TestTokenRoundTrip(t *testing.T) {
	withSecret(t, "test-secret")
	token, err := IssueToken(42, RolePro)
	require.NoError(t, err)

	uid, role, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), uid)
	assert.Equal(t, RolePro, role)
}

func TestParseToken_WrongSecret(t *testing.T) {
	withSecret(t, "first")
	token, err := IssueToken(1, RoleUser)
	require.NoError(t, err)

	SetSecret("second")
	_, _, err = ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestParseToken_Expired(t *testing.T) {
	withSecret(t, "test-secret")
	now = func() time.Time { return time.Now().Add(-SessionTTL - time.Hour) }
	token, err := IssueToken(1, RoleUser)
	now = time.Now
	require.NoError(t, err)

	_, _, err = ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestCreateSessionAndMiddleware(t *testing.T) {
	withSecret(t, "test-secret")
	rec := httptest.NewRecorder()
	require.NoError(t, CreateSession(rec, 7, RoleAdmin))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	var gotID uint
	var gotRole string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, uint(7), gotID)
	assert.Equal(t, RoleAdmin, gotRole)
}

func TestBearerToken(t *testing.T) {
	withSecret(t, "test-secret")
	token, err := IssueToken(9, RoleUser)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	uid, role, ok := ParseRequest(req)
	require.True(t, ok)
	assert.Equal(t, uint(9), uid)
	assert.Equal(t, RoleUser, role)
}

func TestClearSession(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearSession(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("api request without session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	})

	t.Run("html request without session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("verifier rejects deleted user", func(t *testing.T) {
		SetUserVerifier(func(_ context.Context, uid uint) bool { return uid != 3 })
		t.Cleanup(func() { SetUserVerifier(nil) })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req = req.WithContext(WithUser(req.Context(), 3, RoleUser))
		RequireAuth(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = httptest.NewRecorder()
		req = req.WithContext(WithUser(req.Context(), 4, RoleUser))
		RequireAuth(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
