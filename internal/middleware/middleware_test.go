package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler(), mw("a"), mw("b"), mw("c")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tags", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error"}`, rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	h := rl.Handler(okHandler())

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/newsletter/subscribe", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001").Code)
	limited := do("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited"}`, limited.Body.String())

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000").Code)

	// Tokens refill with time.
	clock = clock.Add(time.Second)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1003").Code)

	clock = clock.Add(time.Hour)
	assert.Equal(t, 2, rl.Cleanup())
}

func TestClientKey(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "ip:192.0.2.1", ClientKey(req, proxies))

	// an untrusted peer cannot choose its key
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "ip:192.0.2.1", ClientKey(req, proxies))

	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.9, 10.0.0.5")
	assert.Equal(t, "ip:203.0.113.9", ClientKey(req, proxies))

	req.RemoteAddr = "192.0.2.7:443"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "ip:192.0.2.7", ClientKey(req, proxies))

	req = req.WithContext(auth.WithUser(req.Context(), 12, auth.RoleUser))
	assert.Equal(t, "user:12", ClientKey(req, proxies))

	_, err = ParseProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	h := rl.Handler(okHandler())

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "198.51.100.20:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 48, limited)
}

func TestCORS(t *testing.T) {
	h := CORS("https://envie2sortir.fr")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/deals/active", nil)
	req.Header.Set("Origin", "https://envie2sortir.fr")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://envie2sortir.fr", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/deals/active", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLang(t *testing.T) {
	var got string
	h := Lang(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = i18n.LangFromContext(r.Context()) }))

	cases := []struct {
		name   string
		query  string
		cookie string
		accept string
		want   string
	}{
		{"default", "", "", "", "fr"},
		{"header", "", "", "en-US,en;q=0.9", "en"},
		{"cookie beats header", "", "fr", "en-US", "fr"},
		{"query beats cookie", "?lang=en", "fr", "", "en"},
		{"unknown cookie ignored", "", "de", "en", "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/newsletter/confirm"+tc.query, nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "lang", Value: tc.cookie})
			}
			if tc.accept != "" {
				req.Header.Set("Accept-Language", tc.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, got)
			if tc.query != "" {
				assert.Contains(t, rec.Header().Get("Set-Cookie"), "lang="+tc.want)
			}
		})
	}
}
