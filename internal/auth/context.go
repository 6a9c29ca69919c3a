package auth

import "context"

type contextKey string

const (
	contextKeyOrg    contextKey = "auth.organization_id"
	contextKeyDevice contextKey = "auth.device_id"
)

// WithDevicePrincipal stores the authenticated device identity in context.
func WithDevicePrincipal(ctx context.Context, organizationID, deviceID string) context.Context {
	ctx = context.WithValue(ctx, contextKeyOrg, organizationID)
	ctx = context.WithValue(ctx, contextKeyDevice, deviceID)
	return ctx
}

// OrganizationIDFromContext extracts the principal's organization id.
func OrganizationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if orgID, ok := ctx.Value(contextKeyOrg).(string); ok {
		return orgID
	}
	return ""
}

// DeviceIDFromContext extracts the authenticated device external id.
func DeviceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if deviceID, ok := ctx.Value(contextKeyDevice).(string); ok {
		return deviceID
	}
	return ""
}
