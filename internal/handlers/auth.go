package handlers

import (
	"errors"
	"net/http"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

type AuthHandler struct {
	accounts *services.AccountService
}

func NewAuthHandler(accounts *services.AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in services.SignupInput
	if !decode(w, r, &in) {
		return
	}
	u, err := h.accounts.Signup(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.CreateSession(w, u.ID, u.Role); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !decode(w, r, &in) {
		return
	}
	u, err := h.accounts.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.CreateSession(w, u.ID, u.Role); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	httpx.NoContent(w)
}

// Me returns the session user; a deleted account clears the session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	u, err := h.accounts.Get(r.Context(), uid)
	if errors.Is(err, services.ErrNotFound) {
		auth.ClearSession(w)
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": u})
}
