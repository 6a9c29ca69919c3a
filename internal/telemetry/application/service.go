package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CodeFleck/sensorvision-sub010/internal/auth"
	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	"github.com/CodeFleck/sensorvision-sub010/internal/telemetry/application/events"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

// ErrAutoProvisionDisabled is returned when an unknown device reports while
// auto-provisioning is turned off.
var ErrAutoProvisionDisabled = errors.New("telemetry: auto-provisioning disabled")

// ErrDeviceMismatch is returned when a device token authenticates one device
// and the payload names another.
var ErrDeviceMismatch = errors.New("telemetry: device token does not match payload device")

// IngestRequest is one inbound telemetry payload after transport decoding.
type IngestRequest struct {
	DeviceExternalID string
	Timestamp        time.Time
	Measurements     map[string]*float64
	Metadata         map[string]string
}

// VariableRecorder feeds measurements into the variable catalog.
type VariableRecorder interface {
	ProcessTelemetry(ctx context.Context, device *devices.Device, measurements map[string]*float64, timestamp time.Time, recordID string) (map[string]variables.VariableValue, error)
}

// RecordEvaluator evaluates device rules against a persisted record.
type RecordEvaluator interface {
	EvaluateRecord(ctx context.Context, record telemetry.TelemetryRecord) error
}

// LivePusher pushes records to connected live subscribers.
type LivePusher interface {
	BroadcastTelemetry(organizationID string, record telemetry.TelemetryRecord)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service drives the ingest pipeline: resolve device, persist the record,
// record variables, evaluate rules, then fan out.
type Service struct {
	devices       devices.DeviceRepository
	records       telemetry.RecordRepository
	recorder      VariableRecorder
	evaluator     RecordEvaluator
	live          LivePusher
	publisher     EventPublisher
	autoProvision bool
	defaultOrgID  string
	clock         Clock
	logger        *log.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithEvaluator assigns the rule evaluator invoked synchronously per record.
func WithEvaluator(evaluator RecordEvaluator) ServiceOption {
	return func(s *Service) {
		s.evaluator = evaluator
	}
}

// WithLivePusher assigns a live subscriber hub.
func WithLivePusher(live LivePusher) ServiceOption {
	return func(s *Service) {
		s.live = live
	}
}

// WithPublisher assigns a domain event publisher.
func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs a telemetry service.
func NewService(deviceRepo devices.DeviceRepository, recordRepo telemetry.RecordRepository, recorder VariableRecorder, autoProvision bool, defaultOrgID string, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if deviceRepo == nil {
		return nil, errors.New("telemetry: nil device repo")
	}
	if recordRepo == nil {
		return nil, errors.New("telemetry: nil record repo")
	}
	if recorder == nil {
		return nil, errors.New("telemetry: nil variable recorder")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		devices:       deviceRepo,
		records:       recordRepo,
		recorder:      recorder,
		autoProvision: autoProvision,
		defaultOrgID:  defaultOrgID,
		clock:         systemClock{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest processes one telemetry payload end to end and returns the persisted
// record.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*telemetry.TelemetryRecord, error) {
	if s == nil {
		return nil, errors.New("telemetry: nil service")
	}
	if req.DeviceExternalID == "" {
		return nil, errors.New("telemetry: missing device external id")
	}
	if tokenDevice := auth.DeviceIDFromContext(ctx); tokenDevice != "" && tokenDevice != req.DeviceExternalID {
		return nil, fmt.Errorf("%w: token %s payload %s", ErrDeviceMismatch, tokenDevice, req.DeviceExternalID)
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}
	timestamp = timestamp.UTC()

	device, err := s.resolveDevice(ctx, req, timestamp)
	if err != nil {
		return nil, err
	}

	record := &telemetry.TelemetryRecord{
		ID:               uuid.NewString(),
		DeviceExternalID: device.ExternalID,
		OrganizationID:   device.OrganizationID,
		Timestamp:        timestamp,
		Measurements:     req.Measurements,
		Metadata:         req.Metadata,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, err
	}

	if _, err := s.recorder.ProcessTelemetry(ctx, device, req.Measurements, timestamp, record.ID); err != nil {
		return nil, err
	}

	if s.evaluator != nil {
		// The record is already durable; evaluation trouble stays internal.
		if err := s.evaluator.EvaluateRecord(ctx, *record); err != nil {
			s.logger.Printf("telemetry: evaluate rules for record %s: %v", record.ID, err)
			metrics.IncIngestError("rule_eval")
		}
	}

	if s.live != nil {
		s.live.BroadcastTelemetry(record.OrganizationID, *record)
	}
	if s.publisher != nil {
		event := events.TelemetryReceived{
			RecordID:         record.ID,
			DeviceExternalID: record.DeviceExternalID,
			OrganizationID:   record.OrganizationID,
			OccurredAt:       record.Timestamp,
			Measurements:     record.Measurements,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Printf("telemetry: publish TelemetryReceived: %v", err)
		}
	}
	return record, nil
}

// ListRecords returns a device's records within a window.
func (s *Service) ListRecords(ctx context.Context, deviceExternalID string, from, to time.Time, limit int) ([]telemetry.TelemetryRecord, error) {
	if s == nil {
		return nil, errors.New("telemetry: nil service")
	}
	if deviceExternalID == "" {
		return nil, errors.New("telemetry: missing device external id")
	}
	if to.IsZero() {
		to = s.clock.Now().UTC()
	}
	return s.records.ListByDevice(ctx, deviceExternalID, from, to, limit)
}

func (s *Service) resolveDevice(ctx context.Context, req IngestRequest, timestamp time.Time) (*devices.Device, error) {
	device, err := s.devices.GetByExternalID(ctx, req.DeviceExternalID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	if device == nil {
		if !s.autoProvision {
			return nil, fmt.Errorf("%w: device %s is not registered", ErrAutoProvisionDisabled, req.DeviceExternalID)
		}
		orgID := auth.OrganizationIDFromContext(ctx)
		if orgID == "" {
			orgID = s.defaultOrgID
		}
		device = &devices.Device{
			ExternalID:     req.DeviceExternalID,
			OrganizationID: orgID,
			Name:           req.DeviceExternalID,
			Status:         devices.StatusOnline,
			LastSeenAt:     now,
			CreatedAt:      now,
		}
		applyMetadata(device, req.Metadata)
		if err := s.devices.Save(ctx, device); err != nil {
			return nil, err
		}
		s.logger.Printf("telemetry: auto-provisioned device %s in organization %s", device.ExternalID, device.OrganizationID)
		return device, nil
	}

	device.Status = devices.StatusOnline
	device.LastSeenAt = now
	applyMetadata(device, req.Metadata)
	if err := s.devices.Save(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// applyMetadata folds well-known payload metadata into the device profile.
func applyMetadata(device *devices.Device, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if name, ok := metadata["name"]; ok && name != "" {
		device.Name = name
	}
	if location, ok := metadata["location"]; ok && location != "" {
		device.Location = location
	}
	if sensorType, ok := metadata["sensorType"]; ok && sensorType != "" {
		device.SensorType = sensorType
	}
	if firmware, ok := metadata["firmwareVersion"]; ok && firmware != "" {
		device.FirmwareVersion = firmware
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
