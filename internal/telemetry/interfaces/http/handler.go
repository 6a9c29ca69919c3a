package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	"github.com/CodeFleck/sensorvision-sub010/internal/telemetry/application"
)

// IngestHandler handles telemetry ingestion over HTTP.
type IngestHandler struct {
	service *application.Service
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.Service, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("telemetry ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP ingests one telemetry payload.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, started, "read_body", "read body error", http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, started, "decode", "invalid json", http.StatusBadRequest, err)
		return
	}

	ingest, err := req.toIngestRequest()
	if err != nil {
		h.fail(w, started, "payload", "invalid payload", http.StatusBadRequest, err)
		return
	}

	record, err := h.service.Ingest(r.Context(), ingest)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrAutoProvisionDisabled):
			h.fail(w, started, "unprovisioned_device", err.Error(), http.StatusForbidden, err)
		case errors.Is(err, application.ErrDeviceMismatch):
			h.fail(w, started, "device_mismatch", "device token mismatch", http.StatusForbidden, err)
		default:
			h.fail(w, started, "ingest", "ingest error", http.StatusInternalServerError, err)
		}
		return
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"recordId":       record.ID,
		"deviceId":       record.DeviceExternalID,
		"organizationId": record.OrganizationID,
		"timestamp":      record.Timestamp.Format(time.RFC3339Nano),
	})
}

func (h *IngestHandler) fail(w http.ResponseWriter, started time.Time, reason, message string, status int, err error) {
	h.logger.Printf("telemetry ingest: %s: %v", reason, err)
	metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
	metrics.IncIngestError(reason)
	http.Error(w, message, status)
}

type ingestRequest struct {
	DeviceID     string              `json:"deviceId"`
	Timestamp    string              `json:"timestamp"`
	TS           int64               `json:"ts"`
	Measurements map[string]*float64 `json:"measurements"`
	Metadata     map[string]string   `json:"metadata"`
}

func (r ingestRequest) toIngestRequest() (application.IngestRequest, error) {
	if r.DeviceID == "" {
		return application.IngestRequest{}, errors.New("missing deviceId")
	}
	var at time.Time
	switch {
	case r.TS > 0:
		at = parseUnix(r.TS)
	case r.Timestamp != "":
		parsed, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			return application.IngestRequest{}, errors.New("invalid timestamp")
		}
		at = parsed.UTC()
	}
	return application.IngestRequest{
		DeviceExternalID: r.DeviceID,
		Timestamp:        at,
		Measurements:     r.Measurements,
		Metadata:         r.Metadata,
	}, nil
}

// parseUnix accepts milliseconds or seconds.
func parseUnix(value int64) time.Time {
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}
