// Package handlers exposes the services over JSON HTTP endpoints, plus the
// two newsletter landing pages.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/i18n"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

// statusFor maps service sentinels to an HTTP status and error code.
var statusFor = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrForbidden, http.StatusForbidden, "forbidden"},
	{gate.ErrForbidden, http.StatusForbidden, "forbidden"},
	{gate.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{services.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{services.ErrSiretTaken, http.StatusConflict, "siret_taken"},
	{services.ErrSlugTaken, http.StatusConflict, "slug_taken"},
	{services.ErrSiretInactive, http.StatusUnprocessableEntity, "siret_inactive"},
	{services.ErrConversationClosed, http.StatusConflict, "conversation_closed"},
	{services.ErrAlreadySubscribed, http.StatusConflict, "already_subscribed"},
	{services.ErrInvalidToken, http.StatusBadRequest, "invalid_token"},
	{services.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{services.ErrIntegrationOff, http.StatusServiceUnavailable, "integration_disabled"},
}

// writeError answers err as a JSON error envelope. Unknown errors are
// logged and hidden behind 500 internal_error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := services.AsValidation(err); ok {
		lang := i18n.LangFromContext(r.Context())
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]any{
			"violations": ve.Violations,
			"messages":   i18n.Messages(lang, ve.Violations),
		})
		return
	}
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			httpx.JSONError(w, m.status, m.code, nil)
			return
		}
	}
	logging.FromContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		Error("request failed")
	httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
}

// decode reads a JSON body, answering 400 invalid_json itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

// pathID reads {name}, answering 400 invalid_id itself on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, ok := httpx.PathUint(r, name)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
	}
	return id, ok
}

// subject is the authenticated caller. Behind the policy gate the role is
// the one stored on the user row, not the one signed into the session.
func subject(r *http.Request) gate.Subject {
	uid, _ := auth.UserIDFromContext(r.Context())
	return gate.Subject{UserID: uid, Role: auth.RoleFromContext(r.Context())}
}

func optionalUserID(r *http.Request) *uint {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return &uid
	}
	return nil
}

// dateRange parses ?from=&to= (YYYY-MM-DD) into the analytics window.
func dateRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	parse := func(key string) (*time.Time, error) {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, services.ErrInvalidRange
		}
		return &t, nil
	}
	from, err := parse("from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse("to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return services.ResolveRange(from, to, now)
}

// queryDays reads ?days=, falling back to def.
func queryDays(r *http.Request, def int) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		return def
	}
	return days
}
