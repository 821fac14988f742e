package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RequestID(t *testing.T) {
	log, hook := test.NewNullLogger()
	var seen *logrus.Entry
	h := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	require.NotNil(t, seen)
	assert.Equal(t, "req-1", seen.Data["request_id"])

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, http.StatusTeapot, last.Data["status"])
	assert.Equal(t, "/api/tags", last.Data["path"])
}

func TestMiddleware_GeneratesID(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, 2, hook.LastEntry().Data["bytes"])
}

func TestFromContext_Fallback(t *testing.T) {
	assert.NotNil(t, FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestNew_FileAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, closer := New(Options{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithField("k", "v").Info("hello")
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	log, _ := New(Options{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}
