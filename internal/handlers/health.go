package handlers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/httpx"
	"github.com/envie2sortir/envie2sortir/internal/db"
	"github.com/envie2sortir/envie2sortir/internal/logging"
)

type HealthHandler struct {
	conn    *gorm.DB
	version string
	started time.Time
}

func NewHealthHandler(conn *gorm.DB, version string) *HealthHandler {
	return &HealthHandler{conn: conn, version: version, started: time.Now()}
}

// Health answers 200 "ok" or 503 "degraded" when the database is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, dbStatus, code := "ok", "up", http.StatusOK
	if err := db.Ping(ctx, h.conn); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("health check: database down")
		status, dbStatus, code = "degraded", "down", http.StatusServiceUnavailable
	}
	httpx.JSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"version":  h.version,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}
