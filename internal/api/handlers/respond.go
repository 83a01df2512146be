package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	apiContext "hookline/internal/api/context"
	"hookline/internal/api/middleware"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/audit"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

// orgID is safe to call behind TenantMiddleware only.
func orgID(r *http.Request) string {
	return middleware.TenantFrom(r.Context()).OrgID
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, webhooks.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Resource not found", nil)
	case stderrors.Is(err, webhooks.ErrNotVerified):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeNotVerified, webhooks.ErrNotVerified.Error(), nil)
	case stderrors.Is(err, webhooks.ErrInactive):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, webhooks.ErrInactive.Error(), nil)
	case stderrors.Is(err, webhooks.ErrNotRetryable):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Only failed or cancelled deliveries can be retried", nil)
	case stderrors.Is(err, webhooks.ErrInvalidConfiguration), stderrors.Is(err, webhooks.ErrInvalidEvent):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}
}

func audited(l *audit.Logger, r *http.Request, action, resourceType, resourceID string, metadata map[string]interface{}) {
	e := audit.Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if tenant := middleware.TenantFrom(r.Context()); tenant != nil {
		e.OrganizationID = tenant.OrgID
		e.UserID = tenant.UserID
	}
	l.Log(e)
}
