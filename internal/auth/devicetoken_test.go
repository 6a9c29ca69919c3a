package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestDeviceTokenRoundTrip(t *testing.T) {
	token, err := IssueDeviceToken("org-1", "dev-1", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseDeviceToken(token, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if claims.OrganizationID != "org-1" || claims.DeviceID != "dev-1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseDeviceTokenRejects(t *testing.T) {
	token, err := IssueDeviceToken("org-1", "dev-1", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseDeviceToken(token, []byte("wrong-secret")); err == nil {
		t.Fatal("wrong secret must be rejected")
	}
	if _, err := ParseDeviceToken("not-a-token", testSecret); err == nil {
		t.Fatal("garbage must be rejected")
	}

	expired, err := IssueDeviceToken("org-1", "dev-1", testSecret, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseDeviceToken(expired, testSecret); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestMiddlewareAttachesPrincipal(t *testing.T) {
	middleware := NewDeviceTokenMiddleware(testSecret)
	var gotOrg, gotDevice string
	wrapped := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = OrganizationIDFromContext(r.Context())
		gotDevice = DeviceIDFromContext(r.Context())
	}))

	token, err := IssueDeviceToken("org-1", "dev-1", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if gotOrg != "org-1" || gotDevice != "dev-1" {
		t.Fatalf("principal = (%q, %q)", gotOrg, gotDevice)
	}
}

func TestMiddlewarePassesThroughWithoutToken(t *testing.T) {
	middleware := NewDeviceTokenMiddleware(testSecret)
	var gotOrg string
	wrapped := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = OrganizationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", nil)
	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("anonymous requests pass through, status = %d", resp.Code)
	}
	if gotOrg != "" {
		t.Fatalf("no principal expected, got %q", gotOrg)
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	middleware := NewDeviceTokenMiddleware(testSecret)
	wrapped := middleware.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}
