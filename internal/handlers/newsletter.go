package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/services"
	"github.com/envie2sortir/envie2sortir/view"
)

type NewsletterHandler struct {
	newsletter *services.NewsletterService
	now        func() time.Time
}

func NewNewsletterHandler(newsletter *services.NewsletterService) *NewsletterHandler {
	return &NewsletterHandler{newsletter: newsletter, now: time.Now}
}

func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var in services.SubscribeInput
	if !decode(w, r, &in) {
		return
	}
	sub, err := h.newsletter.Subscribe(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"email": sub.Email, "status": sub.Status})
}

type unsubscribeRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// Unsubscribe takes a token from an email link, or a bare address.
func (h *NewsletterHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var in unsubscribeRequest
	if !decode(w, r, &in) {
		return
	}
	var err error
	if in.Token != "" {
		_, err = h.newsletter.Unsubscribe(r.Context(), in.Token)
	} else {
		err = h.newsletter.UnsubscribeEmail(r.Context(), in.Email)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ConfirmPage is the landing of the confirmation link.
func (h *NewsletterHandler) ConfirmPage(w http.ResponseWriter, r *http.Request) {
	sub, err := h.newsletter.Confirm(r.Context(), r.URL.Query().Get("token"))
	h.landing(w, r, "newsletter.confirmed", sub, err)
}

// UnsubscribePage is the landing of the unsubscribe link.
func (h *NewsletterHandler) UnsubscribePage(w http.ResponseWriter, r *http.Request) {
	sub, err := h.newsletter.Unsubscribe(r.Context(), r.URL.Query().Get("token"))
	h.landing(w, r, "newsletter.unsubscribed", sub, err)
}

func (h *NewsletterHandler) landing(w http.ResponseWriter, r *http.Request, message string, sub *models.NewsletterSubscriber, err error) {
	status := http.StatusOK
	data := map[string]any{"OK": true, "Message": message}
	switch {
	case errors.Is(err, services.ErrInvalidToken):
		status = http.StatusBadRequest
		data = map[string]any{"OK": false, "Message": "newsletter.invalid_token"}
	case err != nil:
		logging.FromContext(r.Context()).WithError(err).Error("newsletter landing failed")
		status = http.StatusInternalServerError
		data = map[string]any{"OK": false, "Message": "newsletter.invalid_token"}
	default:
		data["Email"] = sub.Email
	}
	if err := view.Render(w, r, status, "newsletter.html", data); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("render newsletter page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// List accepts ?status=&q=&page=&limit=.
func (h *NewsletterHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := httpx.Pagination(r, 50, 200)
	res, err := h.newsletter.List(r.Context(), services.SubscriberFilter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *NewsletterHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.newsletter.Stats(r.Context(), queryDays(r, services.DefaultAnalyticsDays))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// Export streams every subscriber as CSV.
func (h *NewsletterHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="newsletter-`+h.now().Format(time.DateOnly)+`.csv"`)
	if err := h.newsletter.Export(r.Context(), w); err != nil {
		// Headers are gone once rows are written; log only.
		logging.FromContext(r.Context()).WithError(err).Error("newsletter export failed")
	}
}

func (h *NewsletterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.newsletter.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}
