package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	JSONError(w, http.StatusConflict, "email_taken", map[string]string{"email": "taken"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"email_taken","details":{"email":"taken"}}`, w.Body.String())
}

func TestJSON_NilPayload(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, nil)
	assert.Equal(t, "null", w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	r := httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(`{"email":"a@b.fr","extra":1}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), r, &dst))
	assert.Equal(t, "a@b.fr", dst.Email)

	r = httptest.NewRequest(http.MethodPost, "/api/x", nil)
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), r, &dst), ErrEmptyBody)

	r = httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(`{bad`))
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), r, &dst))
}

func TestWantsJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	assert.True(t, WantsJSON(r))

	r = httptest.NewRequest(http.MethodGet, "/newsletter/confirm", nil)
	r.Header.Set("Accept", "text/html,application/json")
	assert.False(t, WantsJSON(r))

	r.Header.Set("Accept", "application/json")
	assert.True(t, WantsJSON(r))
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 20},
		{"page=3&limit=10", 3, 10},
		{"page=-1&limit=1000", 1, 100},
		{"page=abc", 1, 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/establishments?"+tt.query, nil)
		page, limit := Pagination(r, 20, 100)
		assert.Equal(t, tt.wantPage, page, tt.query)
		assert.Equal(t, tt.wantLimit, limit, tt.query)
	}
}
