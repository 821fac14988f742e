package middleware

import (
	"fmt"
	"net"
	"net/netip"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per user id, or per client IP for
// anonymous callers.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	proxies  []netip.Prefix
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter.AllowN(v.lastSeen, 1)
}

// Handler wraps next with the limiter.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r, rl.proxies)
		if !rl.allow(key) {
			logging.FromContext(r.Context()).WithField("key", key).WithField("path", r.URL.Path).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			httpx.JSONError(w, http.StatusTooManyRequests, "rate_limited", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap is Handler for a HandlerFunc.
func (rl *RateLimiter) Wrap(h http.HandlerFunc) http.Handler { return rl.Handler(h) }

// Cleanup forgets buckets idle for longer than the idle window.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for k, v := range rl.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
			removed++
		}
	}
	return removed
}

// TrustProxies sets the proxies whose X-Forwarded-For is believed. Each
// entry is an IP or a CIDR. Call it before serving.
func (rl *RateLimiter) TrustProxies(entries []string) error {
	proxies, err := ParseProxies(entries)
	if err != nil {
		return err
	}
	rl.proxies = proxies
	return nil
}

func ParseProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func trusted(addr netip.Addr, proxies []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientKey is "user:<id>" for sessions, else "ip:<addr>".
func ClientKey(r *http.Request, proxies []netip.Prefix) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + strconv.FormatUint(uint64(uid), 10)
	}
	return "ip:" + ClientIP(r, proxies)
}

// ClientIP is the peer address. X-Forwarded-For is read only when the peer
// is a trusted proxy: the chain is walked from the right and the first hop
// that is not itself a trusted proxy wins.
func ClientIP(r *http.Request, proxies []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !trusted(peer, proxies) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !trusted(addr, proxies) {
			return addr.Unmap().String()
		}
	}
	return host
}
