package handlers

import (
	"net/http"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/envie2sortir/envie2sortir/internal/realtime"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

type MessagingHandler struct {
	messaging *services.MessagingService
	hub       *realtime.Hub
}

func NewMessagingHandler(messaging *services.MessagingService, hub *realtime.Hub) *MessagingHandler {
	return &MessagingHandler{messaging: messaging, hub: hub}
}

// List accepts ?status=open|closed.
func (h *MessagingHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.messaging.List(r.Context(), subject(r), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *MessagingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.NewConversationInput
	if !decode(w, r, &in) {
		return
	}
	conv, err := h.messaging.Create(r.Context(), subject(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, conv)
}

func (h *MessagingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	conv, err := h.messaging.Get(r.Context(), subject(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, conv)
}

type messageRequest struct {
	Body string `json:"body"`
}

func (h *MessagingHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in messageRequest
	if !decode(w, r, &in) {
		return
	}
	msg, err := h.messaging.Send(r.Context(), subject(r), id, in.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *MessagingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in statusRequest
	if !decode(w, r, &in) {
		return
	}
	conv, err := h.messaging.SetStatus(r.Context(), subject(r), id, in.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, conv)
}

func (h *MessagingHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.messaging.MarkRead(r.Context(), subject(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (h *MessagingHandler) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.messaging.UnreadCount(r.Context(), subject(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"unread": n})
}

// Stream upgrades to a websocket pushing new messages of one conversation.
func (h *MessagingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.messaging.Access(r.Context(), subject(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.hub.Serve(w, r, id); err != nil {
		// The upgrader already answered the client.
		logging.FromContext(r.Context()).WithError(err).WithField("conversation_id", id).Warn("websocket upgrade failed")
	}
}
