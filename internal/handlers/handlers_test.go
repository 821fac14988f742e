package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/i18n"
	"github.com/envie2sortir/envie2sortir/internal/events"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/services"
	"github.com/envie2sortir/envie2sortir/internal/testutil"
	"github.com/envie2sortir/envie2sortir/validation"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{services.ErrNotFound, http.StatusNotFound, `{"error":"not_found"}`},
		{fmt.Errorf("load: %w", services.ErrSlugTaken), http.StatusConflict, `{"error":"slug_taken"}`},
		{services.ErrSiretInactive, http.StatusUnprocessableEntity, `{"error":"siret_inactive"}`},
		{services.ErrIntegrationOff, http.StatusServiceUnavailable, `{"error":"integration_disabled"}`},
		{errors.New("disk on fire"), http.StatusInternalServerError, `{"error":"internal_error"}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.JSONEq(t, tc.body, rec.Body.String())
	}
}

func TestWriteErrorValidation(t *testing.T) {
	err := &services.ValidationError{Violations: validation.Violations{"email": "invalid_email"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", nil)
	req = req.WithContext(i18n.WithLang(req.Context(), "en"))
	rec := httptest.NewRecorder()
	writeError(rec, req, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_failed","details":{"violations":{"email":"invalid_email"},"messages":{"email":"Invalid email address"}}}`, rec.Body.String())
}

func TestDateRange(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC)

	from, to, err := dateRange(httptest.NewRequest(http.MethodGet, "/", nil), now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), to)

	_, _, err = dateRange(httptest.NewRequest(http.MethodGet, "/?from=2026-03-10&to=2026-03-01", nil), now)
	assert.ErrorIs(t, err, services.ErrInvalidRange)

	_, _, err = dateRange(httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil), now)
	assert.ErrorIs(t, err, services.ErrInvalidRange)
}

func TestPathIDRejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/pro/deals/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	_, ok := pathID(rec, req, "id")
	assert.False(t, ok)
	assert.JSONEq(t, `{"error":"invalid_id"}`, rec.Body.String())
}

func TestHealthDegraded(t *testing.T) {
	conn := testutil.NewDB(t)
	h := NewHealthHandler(conn, "test")

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestNewsletterExport(t *testing.T) {
	conn := testutil.NewDB(t)
	svc := services.NewNewsletterService(conn, events.NopPublisher{})
	_, err := svc.Subscribe(context.Background(), services.SubscribeInput{Email: "fan@example.com", Consent: true})
	require.NoError(t, err)

	h := NewNewsletterHandler(svc)
	h.now = func() time.Time { return time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC) }
	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/admin/newsletter/export", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "newsletter-2026-05-02.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "fan@example.com,pending,"))
}

func TestAdminActivate(t *testing.T) {
	conn := testutil.NewDB(t)
	admin := testutil.CreateUser(t, conn, "admin@example.com", auth.RoleAdmin)
	_, pro, _ := testutil.CreatePro(t, conn, "pro@example.com", "73282932000074", "le-zinc")
	require.NoError(t, conn.Model(pro).Update("subscription_tier", models.TierWaitlistBeta).Error)

	pub := events.NopPublisher{}
	h := NewAdminHandler(services.NewAccountService(conn), policy.NewPlatformGate(conn, time.Minute), services.NewWaitlistService(conn, pub), nil)

	call := func(id uint, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/admin/waitlist/%d/activate", id), bytes.NewBufferString(body))
		req.SetPathValue("id", fmt.Sprint(id))
		req = req.WithContext(auth.WithUser(req.Context(), admin.ID, admin.Role))
		rec := httptest.NewRecorder()
		h.Activate(rec, req)
		return rec
	}

	rec := call(pro.ID, `{"tier":"GOLD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_value")

	rec = call(pro.ID, `{"tier":"PREMIUM"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(pro.ID, `{"tier":"PREMIUM"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
