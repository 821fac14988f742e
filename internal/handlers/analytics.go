package handlers

import (
	"net/http"
	"time"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

type AnalyticsHandler struct {
	analytics      *services.AnalyticsService
	establishments *services.EstablishmentService
	gate           *policy.AuthGate
	now            func() time.Time
}

func NewAnalyticsHandler(analytics *services.AnalyticsService, establishments *services.EstablishmentService, ag *policy.AuthGate) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, establishments: establishments, gate: ag, now: time.Now}
}

// Track is called by the public pages for every tracked click.
func (h *AnalyticsHandler) Track(w http.ResponseWriter, r *http.Request) {
	var in services.TrackInput
	if !decode(w, r, &in) {
		return
	}
	in.UserID = optionalUserID(r)
	in.UserAgent = r.UserAgent()
	in.Referrer = r.Referer()
	if err := h.analytics.Track(r.Context(), in); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// Establishment summarizes clicks for the owner, ?from=&to= as YYYY-MM-DD.
func (h *AnalyticsHandler) Establishment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	est, err := h.establishments.Get(r.Context(), id)
	if err == nil {
		err = h.gate.Authorize(r.Context(), gate.ActionView, gate.ResourceAnalytics, est)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.summary(w, r, est.ID)
}

// Platform is the admin view over every establishment.
func (h *AnalyticsHandler) Platform(w http.ResponseWriter, r *http.Request) {
	h.summary(w, r, 0)
}

func (h *AnalyticsHandler) summary(w http.ResponseWriter, r *http.Request, establishmentID uint) {
	from, to, err := dateRange(r, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.analytics.Summary(r.Context(), establishmentID, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
