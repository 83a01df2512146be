package handlers

import (
	"encoding/json"
	"net/http"

	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/errors"
)

type EventHandler struct {
	svc *webhooks.Service
}

func NewEventHandler(svc *webhooks.Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// Emit accepts an event from a collaborating service. The response only
// says how many deliveries were queued; outcomes are never reported back.
func (h *EventHandler) Emit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	event, logs, err := h.svc.EmitEvent(r.Context(), orgID(r), req.EventType, req.Payload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"queued":     len(logs),
	})
}
