// Package realtime pushes new conversation messages to connected websocket
// clients.
package realtime

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Envelope is the frame sent to clients.
type Envelope struct {
	Type    string `json:"type"`
	Message any    `json:"message,omitempty"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans messages out per conversation id.
type Hub struct {
	mu       sync.RWMutex
	topics   map[uint]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger, allowedOrigin string) *Hub {
	return &Hub{
		topics: make(map[uint]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		log: log,
	}
}

// originChecker admits same-host pages, plus allowedOrigin when set.
func originChecker(allowedOrigin string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return allowedOrigin != "" && origin == allowedOrigin
	}
}

func (h *Hub) subscribe(conversationID uint) *subscriber {
	s := &subscriber{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.topics[conversationID] == nil {
		h.topics[conversationID] = make(map[*subscriber]struct{})
	}
	h.topics[conversationID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(conversationID uint, s *subscriber) {
	h.mu.Lock()
	if subs, ok := h.topics[conversationID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, conversationID)
		}
	}
	h.mu.Unlock()
}

// Subscribers counts open connections on a conversation.
func (h *Hub) Subscribers(conversationID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[conversationID])
}

// PublishMessage sends {"type":"message","message":msg} to every subscriber.
// Slow clients whose buffer is full miss the frame.
func (h *Hub) PublishMessage(conversationID uint, msg any) {
	frame, err := json.Marshal(Envelope{Type: "message", Message: msg})
	if err != nil {
		h.log.WithError(err).Error("encode realtime frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[conversationID] {
		select {
		case s.send <- frame:
		default:
			h.log.WithField("conversation_id", conversationID).Warn("realtime subscriber too slow, frame dropped")
		}
	}
}

// Serve upgrades the request and streams frames until the client leaves.
// Callers authorize access to the conversation before calling it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, conversationID uint) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := h.subscribe(conversationID)
	defer h.unsubscribe(conversationID, s)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-r.Context().Done():
			return nil
		}
	}
}
