package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	// SessionCookie names the cookie carrying the session JWT.
	SessionCookie     = "session"
	issuer            = "envie2sortir"
	userIDCtxKey      = ctxKey("userID")
	roleCtxKey        = ctxKey("role")

	// SessionTTL is how long a login stays valid.
	SessionTTL = 14 * 24 * time.Hour
)

// Roles carried in the session.
const (
	RoleUser  = "user"
	RolePro   = "pro"
	RoleAdmin = "admin"
)

var ErrInvalidSession = errors.New("invalid session")

// Claims is the JWT payload of a session.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserVerifier is an optional callback to validate that a session's user still exists/is allowed.
// Set it during app bootstrap via SetUserVerifier. If nil, no extra verification is performed.
type UserVerifier func(ctx context.Context, uid uint) bool

var (
	mu       sync.RWMutex
	verifier UserVerifier
	secret   []byte
	now      = time.Now
)

// SetUserVerifier configures the global verifier used by RequireAuth.
func SetUserVerifier(v UserVerifier) {
	mu.Lock()
	verifier = v
	mu.Unlock()
}

// SetSecret overrides the signing secret (normally taken from config).
func SetSecret(s string) {
	mu.Lock()
	secret = []byte(s)
	mu.Unlock()
}

// Secret returns the configured secret, SESSION_SECRET, or a dev value.
func Secret() []byte {
	mu.RLock()
	s := secret
	mu.RUnlock()
	if len(s) > 0 {
		return s
	}
	if env := os.Getenv("SESSION_SECRET"); env != "" {
		return []byte(env)
	}
	return []byte("devsessionsecret")
}

// IssueToken signs a session token for userID.
func IssueToken(userID uint, role string) (string, error) {
	issued := now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(SessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(Secret())
}

// ParseToken validates signature, algorithm, issuer and expiry.
func ParseToken(raw string) (uint, string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return Secret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, "", ErrInvalidSession
	}
	return uint(id), claims.Role, nil
}

// CreateSession sets the session cookie for the user.
func CreateSession(w http.ResponseWriter, userID uint, role string) error {
	token, err := IssueToken(userID, role)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now().Add(SessionTTL),
	})
	return nil
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1, HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// ParseRequest reads the session cookie, or a bearer token for API clients.
func ParseRequest(r *http.Request) (uint, string, bool) {
	raw := ""
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		raw = c.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if raw == "" {
		return 0, "", false
	}
	uid, role, err := ParseToken(raw)
	if err != nil {
		return 0, "", false
	}
	return uid, role, true
}

// WithUserID stores user id in context.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userIDCtxKey, userID)
}

// WithUser stores user id and role in context.
func WithUser(ctx context.Context, userID uint, role string) context.Context {
	return context.WithValue(WithUserID(ctx, userID), roleCtxKey, role)
}

// UserIDFromContext extracts user id.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(userIDCtxKey).(uint)
	return id, ok && id != 0
}

// RoleFromContext extracts the session role.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleCtxKey).(string)
	return role
}

// Middleware attaches user id and role to the request context if present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, role, ok := ParseRequest(r); ok {
			r = r.WithContext(WithUser(r.Context(), uid, role))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth redirects to /login if not authenticated (HTML) or returns 401 JSON.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			unauthorized(w, r)
			return
		}
		mu.RLock()
		v := verifier
		mu.RUnlock()
		if v != nil && !v(r.Context(), uid) {
			// Session refers to a non-existing/disabled user: clear and treat as unauthorized.
			ClearSession(w)
			unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if strings.HasPrefix(r.URL.Path, "/api/") ||
		(strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
