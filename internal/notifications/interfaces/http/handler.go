package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	notifapp "github.com/CodeFleck/sensorvision-sub010/internal/notifications/application"
	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/notifications/interfaces"
	ruleapp "github.com/CodeFleck/sensorvision-sub010/internal/rules/application"
)

// Handler provides user, preference and delivery log HTTP endpoints.
type Handler struct {
	service *notifapp.Service
	engine  *ruleapp.Engine
}

// NewHandler constructs a handler.
func NewHandler(service *notifapp.Service, engine *ruleapp.Engine) (*Handler, error) {
	if service == nil {
		return nil, errors.New("notifications handler: nil service")
	}
	if engine == nil {
		return nil, errors.New("notifications handler: nil rule engine")
	}
	return &Handler{service: service, engine: engine}, nil
}

// ServeHTTP handles /api/v1/users, /api/v1/preferences,
// /api/v1/notifications and export subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/users":
		h.handleUsers(w, r)
	case r.URL.Path == "/api/v1/preferences":
		h.handlePreferences(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/preferences/"):
		h.handlePreference(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/preferences/"))
	case r.URL.Path == "/api/v1/notifications":
		h.handleLogs(w, r)
	case r.URL.Path == "/api/v1/notifications/export":
		h.handleLogExport(w, r)
	case r.URL.Path == "/api/v1/alerts/report":
		h.handleAlertReport(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		organizationID := r.URL.Query().Get("organization_id")
		if organizationID == "" {
			http.Error(w, "organization_id is required", http.StatusBadRequest)
			return
		}
		list, err := h.service.ListUsers(r.Context(), organizationID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
	case http.MethodPost:
		var user notifications.User
		if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		saved, err := h.service.SaveUser(r.Context(), user)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		list, err := h.service.ListPreferences(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
	case http.MethodPost, http.MethodPut:
		var pref notifications.NotificationPreference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		saved, err := h.service.SavePreference(r.Context(), pref)
		if err != nil {
			if errors.Is(err, notifications.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondJSON(w, saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePreference(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete || id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.service.DeletePreference(r.Context(), id); err != nil {
		if errors.Is(err, notifications.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	organizationID, from, to, ok := logQuery(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListLogs(r.Context(), organizationID, from, to, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (h *Handler) handleLogExport(w http.ResponseWriter, r *http.Request) {
	organizationID, from, to, ok := logQuery(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListLogs(r.Context(), organizationID, from, to, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	workbook, err := interfaces.BuildNotificationLogXLSX(organizationID, list)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="notifications.xlsx"`)
	_, _ = w.Write(workbook)
}

func (h *Handler) handleAlertReport(w http.ResponseWriter, r *http.Request) {
	organizationID, from, to, ok := logQuery(w, r)
	if !ok {
		return
	}
	alerts, err := h.engine.ListAlerts(r.Context(), organizationID, from, to, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	report, err := interfaces.BuildAlertReportPDF(organizationID, alerts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.pdf"`)
	_, _ = w.Write(report)
}

func logQuery(w http.ResponseWriter, r *http.Request) (string, time.Time, time.Time, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", time.Time{}, time.Time{}, false
	}
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	return organizationID, from, to, true
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
