package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PushesMessages(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, 7)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(7) == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishMessage(8, map[string]string{"body": "other conversation"})
	hub.PublishMessage(7, map[string]any{"id": 1, "body": "Bonjour"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type    string         `json:"type"`
		Message map[string]any `json:"message"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "message", env.Type)
	assert.Equal(t, "Bonjour", env.Message["body"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers(7) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log, "https://envie2sortir.fr")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, 1)
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		want    bool
	}{
		{"no origin header", "", "", true},
		{"same host", "", "http://api.example.test", true},
		{"foreign origin without config", "", "https://evil.example", false},
		{"configured origin", "https://envie2sortir.fr", "https://envie2sortir.fr", true},
		{"foreign origin with config", "https://envie2sortir.fr", "https://evil.example", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://api.example.test/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, originChecker(tc.allowed)(req))
		})
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log, "")
	assert.NotPanics(t, func() { hub.PublishMessage(99, "x") })
}
