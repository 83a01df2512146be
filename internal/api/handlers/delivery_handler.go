package handlers

import (
	"net/http"
	"strconv"

	"hookline/internal/engine/webhooks"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/models"
)

type DeliveryHandler struct {
	svc   *webhooks.Service
	audit *audit.Logger
}

func NewDeliveryHandler(svc *webhooks.Service, auditLog *audit.Logger) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, audit: auditLog}
}

// List serves /webhooks/:webhook_id/deliveries, newest first.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	status := models.DeliveryStatus(r.URL.Query().Get("status"))

	logs, total, err := h.svc.ListDeliveryLogs(r.Context(), orgID(r), param(r, "webhook_id"), status, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.DeliveryLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": logs,
		"total":      total,
		"page":       page,
		"limit":      limit,
	})
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.GetDeliveryLog(r.Context(), orgID(r), param(r, "delivery_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, l)
}

func (h *DeliveryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.RetryDelivery(r.Context(), orgID(r), param(r, "delivery_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "delivery.retried", "delivery", l.ID, map[string]interface{}{"webhook_id": l.ConfigurationID})
	writeJSON(w, http.StatusAccepted, l)
}
