package handlers

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/services"
)

// maxMultipartBytes bounds the registration form, photos included.
const maxMultipartBytes = 10 << 20

type ProfessionalHandler struct {
	onboarding *services.OnboardingService
}

func NewProfessionalHandler(onboarding *services.OnboardingService) *ProfessionalHandler {
	return &ProfessionalHandler{onboarding: onboarding}
}

// readRegistration accepts a JSON body, or a multipart form whose "data"
// field holds the same JSON. Uploaded files are ignored.
func readRegistration(w http.ResponseWriter, r *http.Request, in *services.RegistrationInput) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return decode(w, r, in)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_form", nil)
		return false
	}
	defer r.MultipartForm.RemoveAll()
	data := r.FormValue("data")
	if data == "" || json.Unmarshal([]byte(data), in) != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

func (h *ProfessionalHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in services.RegistrationInput
	if !readRegistration(w, r, &in) {
		return
	}
	reg, err := h.onboarding.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.CreateSession(w, reg.User.ID, reg.User.Role); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reg)
}

func (h *ProfessionalHandler) CheckSiret(w http.ResponseWriter, r *http.Request) {
	res, err := h.onboarding.CheckSiret(r.Context(), r.PathValue("siret"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
