package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

// VariableLister exposes a device's variable catalog.
type VariableLister interface {
	ListByDevice(ctx context.Context, deviceExternalID string) ([]variables.Variable, error)
}

// RecordLister exposes a device's telemetry history.
type RecordLister interface {
	ListRecords(ctx context.Context, deviceExternalID string, from, to time.Time, limit int) ([]telemetry.TelemetryRecord, error)
}

// ValueLister exposes a variable's sample history.
type ValueLister interface {
	ListByVariable(ctx context.Context, variableID string, from, to time.Time, limit int) ([]variables.VariableValue, error)
}

// Handler provides read endpoints for devices, organizations and history.
type Handler struct {
	devices   devices.DeviceRepository
	orgs      devices.OrganizationRepository
	variables VariableLister
	records   RecordLister
	values    ValueLister
}

// NewHandler constructs a handler.
func NewHandler(deviceRepo devices.DeviceRepository, orgRepo devices.OrganizationRepository, variableLister VariableLister, recordLister RecordLister, valueLister ValueLister) (*Handler, error) {
	if deviceRepo == nil || orgRepo == nil {
		return nil, errors.New("devices handler: nil repository")
	}
	if variableLister == nil || recordLister == nil || valueLister == nil {
		return nil, errors.New("devices handler: nil lister")
	}
	return &Handler{
		devices:   deviceRepo,
		orgs:      orgRepo,
		variables: variableLister,
		records:   recordLister,
		values:    valueLister,
	}, nil
}

// ServeHTTP handles /api/v1/devices, /api/v1/organizations, /api/v1/variables
// and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		h.handleDevices(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleDevice(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/devices/"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/organizations/"):
		h.handleOrganization(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/organizations/"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/variables/"):
		h.handleVariable(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/variables/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}
	var (
		list []devices.Device
		err  error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		list, err = h.devices.ListByTag(r.Context(), organizationID, tag)
	} else {
		list, err = h.devices.ListByOrganization(r.Context(), organizationID)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		device, err := h.devices.GetByExternalID(r.Context(), parts[0])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if device == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		respondJSON(w, device)
	case len(parts) == 2 && parts[1] == "variables":
		list, err := h.variables.ListByDevice(r.Context(), parts[0])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
	case len(parts) == 2 && parts[1] == "telemetry":
		from, to, limit, err := historyQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		list, err := h.records.ListRecords(r.Context(), parts[0], from, to, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, list)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOrganization(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		org, err := h.orgs.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if org == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		respondJSON(w, org)
	case http.MethodPut:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		org := devices.Organization{ID: id, Name: payload.Name, CreatedAt: time.Now().UTC()}
		if err := org.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.orgs.Save(r.Context(), &org); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, org)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVariable(w http.ResponseWriter, r *http.Request, path string) {
	parts := strings.Split(path, "/")
	if r.Method != http.MethodGet || len(parts) != 2 || parts[1] != "values" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	from, to, limit, err := historyQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.values.ListByVariable(r.Context(), parts[0], from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func historyQuery(r *http.Request) (from, to time.Time, limit int, err error) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, errors.New("from must be RFC3339")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, errors.New("to must be RFC3339")
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return from, to, 0, errors.New("limit must be a non-negative integer")
		}
	}
	return from.UTC(), to.UTC(), limit, nil
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
