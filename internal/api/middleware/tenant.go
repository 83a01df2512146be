package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	apiContext "hookline/internal/api/context"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/auth"
)

// TenantContext is the organization scope every webhook route runs under.
type TenantContext struct {
	OrgID  string
	UserID string
	Role   string
}

// TenantFrom returns the scope placed by TenantMiddleware, or nil.
func TenantFrom(ctx context.Context) *TenantContext {
	tenant, _ := ctx.Value(apiContext.Tenant).(*TenantContext)
	return tenant
}

type TenantMiddleware struct{}

func NewTenantMiddleware() *TenantMiddleware {
	return &TenantMiddleware{}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}
		if claims.OrganizationID == "" {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Token is not scoped to an organization", nil)
			return
		}

		tenant := &TenantContext{
			OrgID:  claims.OrganizationID,
			UserID: claims.UserID,
			Role:   claims.Role,
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, tenant)
		ctx = log.With().Str("org_id", tenant.OrgID).Logger().WithContext(ctx)
		next(w, r.WithContext(ctx))
	}
}
