package handlers

import (
	"net/http"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

// AdminHandler serves the back-office endpoints. Every route is mounted
// behind policy.AuthGate.RequireAdmin.
type AdminHandler struct {
	accounts  *services.AccountService
	gate      *policy.AuthGate
	waitlist  *services.WaitlistService
	dashboard *services.DashboardService
}

func NewAdminHandler(accounts *services.AccountService, ag *policy.AuthGate, waitlist *services.WaitlistService, dashboard *services.DashboardService) *AdminHandler {
	return &AdminHandler{accounts: accounts, gate: ag, waitlist: waitlist, dashboard: dashboard}
}

// Users accepts ?role=&q=&page=&limit=.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	page, limit := httpx.Pagination(r, 20, 100)
	res, err := h.accounts.List(r.Context(), services.UserFilter{
		Role:  r.URL.Query().Get("role"),
		Query: r.URL.Query().Get("q"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *AdminHandler) Roles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.accounts.Roles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in roleRequest
	if !decode(w, r, &in) {
		return
	}
	u, err := h.accounts.SetRole(r.Context(), id, in.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Cached profiles would keep the old permissions until the TTL runs out.
	h.gate.InvalidateUser(u.ID)
	httpx.JSON(w, http.StatusOK, u)
}

func (h *AdminHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	page, limit := httpx.Pagination(r, 20, 100)
	res, err := h.waitlist.List(r.Context(), services.WaitlistFilter{
		Query: r.URL.Query().Get("q"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *AdminHandler) WaitlistStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.waitlist.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

// Activate moves one professional off the waitlist.
func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in tierRequest
	if !decode(w, r, &in) {
		return
	}
	pro, err := h.waitlist.Activate(r.Context(), id, in.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pro)
}

// Launch activates the whole waitlist at once.
func (h *AdminHandler) Launch(w http.ResponseWriter, r *http.Request) {
	var in tierRequest
	if !decode(w, r, &in) {
		return
	}
	n, err := h.waitlist.Launch(r.Context(), in.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"activated": n})
}

// Dashboard accepts ?days=, 30 by default.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Dashboard(r.Context(), queryDays(r, services.DefaultAnalyticsDays))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *AdminHandler) Traffic(w http.ResponseWriter, r *http.Request) {
	t, err := h.dashboard.Traffic(r.Context(), queryDays(r, 7))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}
