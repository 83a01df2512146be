package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "hookline/internal/api/context"
	"hookline/internal/api/handlers"
	"hookline/internal/api/middleware"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/auth"
)

type Dependencies struct {
	WebhookHandler   *handlers.WebhookHandler
	DeliveryHandler  *handlers.DeliveryHandler
	EventHandler     *handlers.EventHandler
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware *middleware.TenantMiddleware
	RateLimiter      *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	writeLimit := deps.RateLimiter.Limit(middleware.LimitAPIWrite)
	verifyLimit := deps.RateLimiter.Limit(middleware.LimitVerify)
	manage := requireRole(auth.RoleAdmin, auth.RoleOwner)

	// Webhook configurations
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, authMid.Handle, tenantMid.Handle, manage, writeLimit))
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Get, authMid.Handle, tenantMid.Handle))
	router.PATCH("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Update, authMid.Handle, tenantMid.Handle, manage, writeLimit))
	router.DELETE("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Delete, authMid.Handle, tenantMid.Handle, manage, writeLimit))

	// Lifecycle
	router.POST("/api/v1/webhooks/:webhook_id/verify",
		chain(deps.WebhookHandler.Verify, authMid.Handle, tenantMid.Handle, manage, verifyLimit))
	router.POST("/api/v1/webhooks/:webhook_id/activate",
		chain(deps.WebhookHandler.Activate, authMid.Handle, tenantMid.Handle, manage, writeLimit))
	router.POST("/api/v1/webhooks/:webhook_id/deactivate",
		chain(deps.WebhookHandler.Deactivate, authMid.Handle, tenantMid.Handle, manage, writeLimit))
	router.POST("/api/v1/webhooks/:webhook_id/rotate-verify-token",
		chain(deps.WebhookHandler.RotateVerifyToken, authMid.Handle, tenantMid.Handle, manage, writeLimit))
	router.POST("/api/v1/webhooks/:webhook_id/rotate-secret",
		chain(deps.WebhookHandler.RotateSecret, authMid.Handle, tenantMid.Handle, manage, writeLimit))

	// Delivery history
	router.GET("/api/v1/webhooks/:webhook_id/stats",
		chain(deps.WebhookHandler.Stats, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/webhooks/:webhook_id/deliveries",
		chain(deps.DeliveryHandler.List, authMid.Handle, tenantMid.Handle))
	router.GET("/api/v1/deliveries/:delivery_id",
		chain(deps.DeliveryHandler.Get, authMid.Handle, tenantMid.Handle))
	router.POST("/api/v1/deliveries/:delivery_id/retry",
		chain(deps.DeliveryHandler.Retry, authMid.Handle, tenantMid.Handle, manage, writeLimit))

	// Event intake from collaborating services
	router.POST("/api/v1/events",
		chain(deps.EventHandler.Emit, authMid.Handle, tenantMid.Handle, requireRole(auth.RoleService, auth.RoleAdmin, auth.RoleOwner)))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
				return
			}

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
