package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/models"
)

type WebhookHandler struct {
	svc   *webhooks.Service
	audit *audit.Logger
}

func NewWebhookHandler(svc *webhooks.Service, auditLog *audit.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, audit: auditLog}
}

// redact hides the verify token and signing secret. They are only returned
// when issued: on create and on rotation.
func redact(c *models.WebhookConfiguration) *models.WebhookConfiguration {
	out := *c
	out.VerifyToken = ""
	out.SecretKey = ""
	return &out
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhooks.CreateConfigurationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	c, err := h.svc.CreateConfiguration(r.Context(), orgID(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "webhook.created", "webhook", c.ID, map[string]interface{}{"callback_url": c.CallbackURL})
	writeJSON(w, http.StatusCreated, c)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.ListConfigurations(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]*models.WebhookConfiguration, 0, len(configs))
	for _, c := range configs {
		out = append(out, redact(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": out})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetConfiguration(r.Context(), orgID(r), param(r, "webhook_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, redact(c))
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req webhooks.UpdateConfigurationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	c, err := h.svc.UpdateConfiguration(r.Context(), orgID(r), param(r, "webhook_id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "webhook.updated", "webhook", c.ID, nil)
	writeJSON(w, http.StatusOK, redact(c))
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteConfiguration(r.Context(), orgID(r), param(r, "webhook_id")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "webhook.deleted", "webhook", param(r, "webhook_id"), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := param(r, "webhook_id")
	res, err := h.svc.VerifyConfiguration(r.Context(), orgID(r), id)
	if res != nil {
		audited(h.audit, r, "webhook.verification_attempted", "webhook", id, map[string]interface{}{"state": res.State})
	}
	if err != nil {
		if stderrors.Is(err, webhooks.ErrVerificationFailed) && res != nil {
			errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeVerification, res.Reason, res)
			return
		}
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *WebhookHandler) Activate(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Activate(r.Context(), orgID(r), param(r, "webhook_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "webhook.activated", "webhook", c.ID, nil)
	writeJSON(w, http.StatusOK, redact(c))
}

func (h *WebhookHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Deactivate(r.Context(), orgID(r), param(r, "webhook_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	audited(h.audit, r, "webhook.deactivated", "webhook", c.ID, nil)
	writeJSON(w, http.StatusOK, redact(c))
}

func (h *WebhookHandler) RotateVerifyToken(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.RotateVerifyToken(r.Context(), orgID(r), param(r, "webhook_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := redact(c)
	out.VerifyToken = c.VerifyToken
	audited(h.audit, r, "webhook.verify_token_rotated", "webhook", c.ID, nil)
	writeJSON(w, http.StatusOK, out)
}

func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.RotateSecretKey(r.Context(), orgID(r), param(r, "webhook_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := redact(c)
	out.SecretKey = c.SecretKey
	audited(h.audit, r, "webhook.secret_rotated", "webhook", c.ID, nil)
	writeJSON(w, http.StatusOK, out)
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "window must be a positive duration such as 24h", nil)
			return
		}
		window = d
	}

	stats, err := h.svc.Stats(r.Context(), orgID(r), param(r, "webhook_id"), window)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
