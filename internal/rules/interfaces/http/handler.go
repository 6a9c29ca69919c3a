package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	ruleapp "github.com/CodeFleck/sensorvision-sub010/internal/rules/application"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

const timeLayout = time.RFC3339

// Handler provides rule and alert HTTP endpoints.
type Handler struct {
	service *ruleapp.RuleService
	engine  *ruleapp.Engine
}

// NewHandler constructs a handler.
func NewHandler(service *ruleapp.RuleService, engine *ruleapp.Engine) (*Handler, error) {
	if service == nil {
		return nil, errors.New("rules handler: nil service")
	}
	if engine == nil {
		return nil, errors.New("rules handler: nil engine")
	}
	return &Handler{service: service, engine: engine}, nil
}

// ServeHTTP handles /api/v1/rules, /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/rules":
		h.handleRules(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/"):
		h.handleRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/rules/"))
	case r.URL.Path == "/api/v1/alerts":
		h.handleAlerts(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAlertAction(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type rulePayload struct {
	OrganizationID   string   `json:"organizationId"`
	DeviceExternalID string   `json:"deviceId"`
	VariableName     string   `json:"variableName"`
	Operator         string   `json:"operator"`
	Threshold        float64  `json:"threshold"`
	Description      string   `json:"description"`
	Enabled          bool     `json:"enabled"`
	SendSMS          bool     `json:"sendSms"`
	SMSRecipients    []string `json:"smsRecipients"`
}

func (p rulePayload) toRule() rules.Rule {
	return rules.Rule{
		OrganizationID:   p.OrganizationID,
		DeviceExternalID: p.DeviceExternalID,
		VariableName:     p.VariableName,
		Operator:         p.Operator,
		Threshold:        p.Threshold,
		Description:      p.Description,
		Enabled:          p.Enabled,
		SendSMS:          p.SendSMS,
		SMSRecipients:    p.SMSRecipients,
	}
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		organizationID := r.URL.Query().Get("organization_id")
		if organizationID == "" {
			http.Error(w, "organization_id is required", http.StatusBadRequest)
			return
		}
		list, err := h.service.ListRules(r.Context(), organizationID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
	case http.MethodPost:
		var payload rulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule, err := h.service.CreateRule(r.Context(), payload.toRule())
		if err != nil {
			respondRuleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rule, err := h.service.GetRule(r.Context(), id)
		if err != nil {
			respondRuleError(w, err)
			return
		}
		respondJSON(w, rule)
	case http.MethodPut:
		var payload rulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule := payload.toRule()
		rule.ID = id
		updated, err := h.service.UpdateRule(r.Context(), rule)
		if err != nil {
			respondRuleError(w, err)
			return
		}
		respondJSON(w, updated)
	case http.MethodDelete:
		if err := h.service.DeleteRule(r.Context(), id); err != nil {
			respondRuleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.engine.ListAlerts(r.Context(), organizationID, from, to, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (h *Handler) handleAlertAction(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "ack" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	alert, err := h.engine.AckAlert(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, alert)
}

func respondRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, rules.ErrInvalidOperator):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
