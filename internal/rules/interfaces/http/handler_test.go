package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	ruleapp "github.com/CodeFleck/sensorvision-sub010/internal/rules/application"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

type memRuleRepo struct {
	rules []rules.Rule
}

func (r *memRuleRepo) GetByID(_ context.Context, id string) (*rules.Rule, error) {
	for i := range r.rules {
		if r.rules[i].ID == id {
			rule := r.rules[i]
			return &rule, nil
		}
	}
	return nil, nil
}

func (r *memRuleRepo) ListEnabledByDevice(_ context.Context, _ string) ([]rules.Rule, error) {
	return nil, nil
}

func (r *memRuleRepo) ListByOrganization(_ context.Context, organizationID string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, rule := range r.rules {
		if rule.OrganizationID == organizationID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memRuleRepo) Save(_ context.Context, rule *rules.Rule) error {
	for i := range r.rules {
		if r.rules[i].ID == rule.ID {
			r.rules[i] = *rule
			return nil
		}
	}
	r.rules = append(r.rules, *rule)
	return nil
}

func (r *memRuleRepo) Delete(_ context.Context, id string) error {
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return nil
}

type memAlertRepo struct {
	alerts []rules.Alert
}

func (r *memAlertRepo) Create(_ context.Context, alert *rules.Alert) error {
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *memAlertRepo) GetByID(_ context.Context, id string) (*rules.Alert, error) {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			alert := r.alerts[i]
			return &alert, nil
		}
	}
	return nil, nil
}

func (r *memAlertRepo) ListByOrganization(_ context.Context, organizationID string, _, _ time.Time, _ int) ([]rules.Alert, error) {
	var out []rules.Alert
	for _, alert := range r.alerts {
		if alert.OrganizationID == organizationID {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (r *memAlertRepo) FindLatestByRuleDevice(_ context.Context, _, _ string) (*rules.Alert, error) {
	return nil, nil
}

func (r *memAlertRepo) MarkAcknowledged(_ context.Context, id string, at time.Time) error {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			r.alerts[i].Acknowledged = true
			r.alerts[i].AcknowledgedAt = at
		}
	}
	return nil
}

func newTestHandler(t *testing.T, ruleRepo *memRuleRepo, alertRepo *memAlertRepo) *Handler {
	t.Helper()
	service, err := ruleapp.NewRuleService(ruleRepo)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := ruleapp.NewEngine(ruleRepo, alertRepo, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	handler, err := NewHandler(service, engine)
	if err != nil {
		t.Fatal(err)
	}
	return handler
}

func do(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader = strings.NewReader(body)
	req := httptest.NewRequest(method, target, reader)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestCreateRule(t *testing.T) {
	handler := newTestHandler(t, &memRuleRepo{}, &memAlertRepo{})

	resp := do(handler, http.MethodPost, "/api/v1/rules", `{
		"organizationId": "org-1",
		"deviceId": "dev-1",
		"variableName": "temperature",
		"operator": ">",
		"threshold": 80,
		"enabled": true
	}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", resp.Code, resp.Body.String())
	}
	var created rules.Rule
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("created rule must carry a generated id")
	}
}

func TestCreateRuleRejectsBadOperator(t *testing.T) {
	handler := newTestHandler(t, &memRuleRepo{}, &memAlertRepo{})

	resp := do(handler, http.MethodPost, "/api/v1/rules", `{
		"organizationId": "org-1",
		"deviceId": "dev-1",
		"variableName": "temperature",
		"operator": "~",
		"threshold": 80
	}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	ruleRepo := &memRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "temperature",
		Operator:         rules.OperatorGreater,
		Threshold:        80,
	}}}
	handler := newTestHandler(t, ruleRepo, &memAlertRepo{})

	if resp := do(handler, http.MethodGet, "/api/v1/rules/rule-1", ""); resp.Code != http.StatusOK {
		t.Fatalf("get: status = %d, want 200", resp.Code)
	}
	if resp := do(handler, http.MethodGet, "/api/v1/rules/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("get missing: status = %d, want 404", resp.Code)
	}

	resp := do(handler, http.MethodPut, "/api/v1/rules/rule-1", `{
		"organizationId": "org-1",
		"deviceId": "dev-1",
		"variableName": "temperature",
		"operator": "<",
		"threshold": 5
	}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("put: status = %d, want 200 (%s)", resp.Code, resp.Body.String())
	}

	if resp := do(handler, http.MethodDelete, "/api/v1/rules/rule-1", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", resp.Code)
	}
	if resp := do(handler, http.MethodDelete, "/api/v1/rules/rule-1", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("delete twice: status = %d, want 404", resp.Code)
	}
}

func TestListAlertsRequiresOrganization(t *testing.T) {
	handler := newTestHandler(t, &memRuleRepo{}, &memAlertRepo{})

	if resp := do(handler, http.MethodGet, "/api/v1/alerts", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if resp := do(handler, http.MethodGet, "/api/v1/alerts?organization_id=org-1", ""); resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
}

func TestAckAlert(t *testing.T) {
	alertRepo := &memAlertRepo{alerts: []rules.Alert{{ID: "alert-1", OrganizationID: "org-1"}}}
	handler := newTestHandler(t, &memRuleRepo{}, alertRepo)

	resp := do(handler, http.MethodPost, "/api/v1/alerts/alert-1/ack", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", resp.Code, resp.Body.String())
	}
	if !alertRepo.alerts[0].Acknowledged {
		t.Fatal("alert not acknowledged")
	}

	if resp := do(handler, http.MethodPost, "/api/v1/alerts/missing/ack", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("ack missing: status = %d, want 404", resp.Code)
	}
	if resp := do(handler, http.MethodGet, "/api/v1/alerts/alert-1/ack", ""); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET ack: status = %d, want 405", resp.Code)
	}
}
