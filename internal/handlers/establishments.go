package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/policy"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

type EstablishmentHandler struct {
	establishments *services.EstablishmentService
	enrichment     *services.EnrichmentService
	gate           *policy.AuthGate
	now            func() time.Time
}

func NewEstablishmentHandler(establishments *services.EstablishmentService, enrichment *services.EnrichmentService, ag *policy.AuthGate) *EstablishmentHandler {
	return &EstablishmentHandler{establishments: establishments, enrichment: enrichment, gate: ag, now: time.Now}
}

// owned loads {id} and checks the caller may perform action on it.
func (h *EstablishmentHandler) owned(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Establishment, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	est, err := h.establishments.Get(r.Context(), id)
	if err == nil {
		err = h.gate.Authorize(r.Context(), action, gate.ResourceEstablishment, est)
	}
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return est, true
}

// Search is the public directory: ?q=&city=&tags=bar,terrasse&price=&page=&limit=
func (h *EstablishmentHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := httpx.Pagination(r, 20, services.MaxSearchLimit)
	f := services.SearchFilter{
		Query: q.Get("q"),
		City:  q.Get("city"),
		Page:  page,
		Limit: limit,
	}
	if raw := q.Get("tags"); raw != "" {
		f.Tags = strings.Split(raw, ",")
	}
	f.PriceRange, _ = strconv.Atoi(q.Get("price"))
	res, err := h.establishments.Search(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type publicEstablishment struct {
	*models.Establishment
	OpenNow bool `json:"open_now"`
}

func (h *EstablishmentHandler) BySlug(w http.ResponseWriter, r *http.Request) {
	est, err := h.establishments.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, publicEstablishment{Establishment: est, OpenNow: est.IsOpenAt(h.now())})
}

func (h *EstablishmentHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.establishments.ListTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (h *EstablishmentHandler) Mine(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	list, err := h.establishments.ListByOwner(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"establishments": list})
}

func (h *EstablishmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.EstablishmentInput
	if !decode(w, r, &in) {
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	est, err := h.establishments.Create(r.Context(), uid, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, est)
}

func (h *EstablishmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	est, ok := h.owned(w, r, gate.ActionView)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

func (h *EstablishmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	est, ok := h.owned(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var in services.EstablishmentInput
	if !decode(w, r, &in) {
		return
	}
	updated, err := h.establishments.Update(r.Context(), est.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *EstablishmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	est, ok := h.owned(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.establishments.Delete(r.Context(), est.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

// Enrich pulls Google Places data into the establishment on demand.
func (h *EstablishmentHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	est, ok := h.owned(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	res, err := h.enrichment.EnrichEstablishment(r.Context(), est.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Moderation lists establishments for admins, ?status=pending by default.
func (h *EstablishmentHandler) Moderation(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.StatusPending
	}
	page, limit := httpx.Pagination(r, 20, 100)
	res, err := h.establishments.ListForModeration(r.Context(), status, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *EstablishmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	est, err := h.establishments.Approve(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *EstablishmentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in rejectRequest
	if !decode(w, r, &in) {
		return
	}
	est, err := h.establishments.Reject(r.Context(), id, in.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

type slugRequest struct {
	Slug string `json:"slug"`
}

// SetSlug lets an admin pick a vanity slug.
func (h *EstablishmentHandler) SetSlug(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in slugRequest
	if !decode(w, r, &in) {
		return
	}
	if err := h.establishments.SetSlug(r.Context(), id, in.Slug); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *EstablishmentHandler) Favorites(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	favs, err := h.establishments.Favorites(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"favorites": favs})
}

func (h *EstablishmentHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "establishmentID")
	if !ok {
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := h.establishments.AddFavorite(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *EstablishmentHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "establishmentID")
	if !ok {
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := h.establishments.RemoveFavorite(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}
