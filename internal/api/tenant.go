package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/property-imports/internal/pkg/httputil"
)

// TenantHeader carries the caller's tenant. Authentication happens upstream.
const TenantHeader = "X-Tenant-ID"

// TenantContextKey is the key for storing the tenant id.
type TenantContextKey struct{}

// RequireTenant rejects requests without a tenant header and stores the
// tenant in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			httputil.Unauthorized(w, "missing tenant")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TenantContextKey{}, tenant)))
	})
}

// TenantFromContext returns the tenant stored by RequireTenant.
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(TenantContextKey{}).(string)
	return tenant
}
