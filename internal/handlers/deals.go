package handlers

import (
	"net/http"
	"time"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

type DealHandler struct {
	deals          *services.DealService
	establishments *services.EstablishmentService
	gate           *policy.AuthGate
	now            func() time.Time
}

func NewDealHandler(deals *services.DealService, establishments *services.EstablishmentService, ag *policy.AuthGate) *DealHandler {
	return &DealHandler{deals: deals, establishments: establishments, gate: ag, now: time.Now}
}

// Active feeds the carousel, optionally for one ?establishment=<slug>.
func (h *DealHandler) Active(w http.ResponseWriter, r *http.Request) {
	deals, err := h.deals.ListActive(r.Context(), h.now(), r.URL.Query().Get("establishment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deals": deals})
}

func (h *DealHandler) Engage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in services.EngageInput
	if !decode(w, r, &in) {
		return
	}
	in.UserID = optionalUserID(r)
	st, err := h.deals.Engage(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// establishment loads {id} as an establishment the caller manages deals of.
func (h *DealHandler) establishment(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Establishment, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	est, err := h.establishments.Get(r.Context(), id)
	if err == nil {
		err = h.gate.Authorize(r.Context(), action, gate.ResourceDeal, est)
	}
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return est, true
}

// deal loads {id} as a deal the caller may act on.
func (h *DealHandler) deal(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Deal, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	d, err := h.deals.Get(r.Context(), id)
	if err == nil {
		err = h.gate.Authorize(r.Context(), action, gate.ResourceDeal, d)
	}
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return d, true
}

func (h *DealHandler) List(w http.ResponseWriter, r *http.Request) {
	est, ok := h.establishment(w, r, gate.ActionList)
	if !ok {
		return
	}
	deals, err := h.deals.ListByEstablishment(r.Context(), est.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deals": deals})
}

func (h *DealHandler) Create(w http.ResponseWriter, r *http.Request) {
	est, ok := h.establishment(w, r, gate.ActionCreate)
	if !ok {
		return
	}
	var in services.DealInput
	if !decode(w, r, &in) {
		return
	}
	d, err := h.deals.Create(r.Context(), est.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *DealHandler) Update(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deal(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var in services.DealInput
	if !decode(w, r, &in) {
		return
	}
	updated, err := h.deals.Update(r.Context(), d.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *DealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deal(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.deals.Delete(r.Context(), d.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *DealHandler) Stats(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deal(w, r, gate.ActionView)
	if !ok {
		return
	}
	st, err := h.deals.Stats(r.Context(), d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}
