package auth

import (
	"net/http"
	"strings"
)

// DeviceTokenMiddleware attaches the device principal from a bearer token.
// Requests without a token pass through unauthenticated; ingestion then falls
// back to the configured default organization for new devices.
type DeviceTokenMiddleware struct {
	Secret []byte
}

// NewDeviceTokenMiddleware constructs the middleware.
func NewDeviceTokenMiddleware(secret []byte) *DeviceTokenMiddleware {
	return &DeviceTokenMiddleware{Secret: secret}
}

// Wrap applies device token extraction to the handler.
func (m *DeviceTokenMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil || len(m.Secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseDeviceToken(token, m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := WithDevicePrincipal(r.Context(), claims.OrganizationID, claims.DeviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
