package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	fleetapp "github.com/CodeFleck/sensorvision-sub010/internal/fleet/application"
	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// Handler provides global rule HTTP endpoints.
type Handler struct {
	service   *fleetapp.Service
	evaluator *fleetapp.Evaluator
}

// NewHandler constructs a handler.
func NewHandler(service *fleetapp.Service, evaluator *fleetapp.Evaluator) (*Handler, error) {
	if service == nil {
		return nil, errors.New("fleet handler: nil service")
	}
	if evaluator == nil {
		return nil, errors.New("fleet handler: nil evaluator")
	}
	return &Handler{service: service, evaluator: evaluator}, nil
}

// ServeHTTP handles /api/v1/global-rules, /api/v1/global-alerts and
// subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/global-rules":
		h.handleRules(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/global-rules/"):
		h.handleRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/global-rules/"))
	case r.URL.Path == "/api/v1/global-alerts":
		h.handleAlerts(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type globalRulePayload struct {
	OrganizationID  string   `json:"organizationId"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	SelectorType    string   `json:"selectorType"`
	Tag             string   `json:"tag"`
	DeviceIDs       []string `json:"deviceIds"`
	Aggregation     string   `json:"aggregation"`
	VariableName    string   `json:"variableName"`
	Operator        string   `json:"operator"`
	Threshold       float64  `json:"threshold"`
	Enabled         bool     `json:"enabled"`
	IntervalMinutes int      `json:"intervalMinutes"`
	CooldownMinutes int      `json:"cooldownMinutes"`
	SendSMS         bool     `json:"sendSms"`
	SMSRecipients   []string `json:"smsRecipients"`
}

func (p globalRulePayload) toRule() fleet.GlobalRule {
	return fleet.GlobalRule{
		OrganizationID:    p.OrganizationID,
		Name:              p.Name,
		Description:       p.Description,
		SelectorType:      p.SelectorType,
		Tag:               p.Tag,
		DeviceExternalIDs: p.DeviceIDs,
		Aggregation:       fleet.AggregationFunction(p.Aggregation),
		VariableName:      p.VariableName,
		Operator:          p.Operator,
		Threshold:         p.Threshold,
		Enabled:           p.Enabled,
		IntervalMinutes:   p.IntervalMinutes,
		CooldownMinutes:   p.CooldownMinutes,
		SendSMS:           p.SendSMS,
		SMSRecipients:     p.SMSRecipients,
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
		var payload globalRulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule, err := h.service.CreateRule(r.Context(), payload.toRule())
		if err != nil {
			respondGlobalRuleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request, path string) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleRuleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "evaluate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.evaluator.EvaluateRule(r.Context(), parts[0]); err != nil {
			respondGlobalRuleError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRuleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rule, err := h.service.GetRule(r.Context(), id)
		if err != nil {
			respondGlobalRuleError(w, err)
			return
		}
		respondJSON(w, rule)
	case http.MethodPut:
		var payload globalRulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule := payload.toRule()
		rule.ID = id
		updated, err := h.service.UpdateRule(r.Context(), rule)
		if err != nil {
			respondGlobalRuleError(w, err)
			return
		}
		respondJSON(w, updated)
	case http.MethodDelete:
		if err := h.service.DeleteRule(r.Context(), id); err != nil {
			respondGlobalRuleError(w, err)
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
	list, err := h.service.ListAlerts(r.Context(), organizationID, from, to, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func respondGlobalRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleet.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, fleet.ErrInvalidAggregation),
		errors.Is(err, fleet.ErrInvalidSelector),
		errors.Is(err, rules.ErrInvalidOperator):
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
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
