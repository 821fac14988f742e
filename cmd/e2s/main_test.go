package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/httpx"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWaitSucceedsOnceReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := run(t, "wait", "--url", srv.URL, "--timeout", "5s", "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "is up")
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := run(t, "wait", "--url", srv.URL, "--timeout", "100ms", "--interval", "20ms")
	assert.ErrorContains(t, err, "not ready")
}

// fakeAuthServer mimics the auth endpoints; breakLogout keeps the cookie.
func fakeAuthServer(t *testing.T, breakLogout bool) *httptest.Server {
	t.Helper()
	auth.SetSecret("smoke-test-secret")
	var registered atomic.Bool
	mux := http.NewServeMux()
	login := func(status int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if status == http.StatusCreated && !registered.CompareAndSwap(false, true) {
				httpx.JSONError(w, http.StatusConflict, "email_taken", nil)
				return
			}
			if err := auth.CreateSession(w, 1, auth.RoleUser); err != nil {
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
				return
			}
			httpx.JSON(w, status, map[string]any{"user": map[string]any{"id": 1}})
		}
	}
	mux.HandleFunc("POST /api/auth/signup", login(http.StatusCreated))
	mux.HandleFunc("POST /api/auth/login", login(http.StatusOK))
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if !breakLogout {
			auth.ClearSession(w)
		}
		httpx.NoContent(w)
	})
	mux.Handle("GET /api/auth/me", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{"id": 1})
	})))
	return httptest.NewServer(auth.Middleware(mux))
}

func TestSmokeAuth(t *testing.T) {
	srv := fakeAuthServer(t, false)
	defer srv.Close()

	out, err := run(t, "smoke-auth", "--base-url", srv.URL, "--rounds", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "passed (3 rounds)")
}

func TestSmokeAuthDetectsStickySession(t *testing.T) {
	srv := fakeAuthServer(t, true)
	defer srv.Close()

	_, err := run(t, "smoke-auth", "--base-url", srv.URL)
	assert.ErrorContains(t, err, "still set after logout")
}
