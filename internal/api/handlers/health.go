package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"hookline/internal/engine/webhooks"
	"hookline/internal/platform/database"
)

type HealthHandler struct {
	db   *database.DB
	pool *webhooks.Pool
}

func NewHealthHandler(db *database.DB, pool *webhooks.Pool) *HealthHandler {
	return &HealthHandler{db: db, pool: pool}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	if h.pool != nil {
		if h.pool.Closed() {
			checks["delivery_pool"] = "unhealthy: closed"
		} else {
			checks["delivery_pool"] = "healthy"
		}
	}

	status := "healthy"
	for _, check := range checks {
		if strings.HasPrefix(check, "unhealthy") {
			status = "degraded"
			break
		}
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
