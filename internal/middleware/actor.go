package middleware

import (
	"net/http"
	"strconv"

	"github.com/tiffinworks/dabba/internal/tenant"
)

const (
	merchantHeader = "X-Merchant-ID"
	roleHeader     = "X-Actor-Role"
)

// RequireActor installs the calling merchant's identity into the request
// context. Identity arrives as trusted headers set by the authenticating
// proxy in front of this service; a request without them is rejected.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(merchantHeader)
		if raw == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		merchantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || merchantID <= 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		actor := tenant.Actor{
			MerchantID: merchantID,
			Role:       r.Header.Get(roleHeader),
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithActor(r.Context(), actor)))
	})
}
