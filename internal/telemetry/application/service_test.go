package application

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/CodeFleck/sensorvision-sub010/internal/auth"
	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubDeviceRepo struct {
	devices map[string]*devices.Device
	saves   int
}

func newStubDeviceRepo(seed ...*devices.Device) *stubDeviceRepo {
	repo := &stubDeviceRepo{devices: make(map[string]*devices.Device)}
	for _, device := range seed {
		copied := *device
		repo.devices[device.ExternalID] = &copied
	}
	return repo
}

func (r *stubDeviceRepo) GetByExternalID(_ context.Context, externalID string) (*devices.Device, error) {
	if device, ok := r.devices[externalID]; ok {
		copied := *device
		return &copied, nil
	}
	return nil, nil
}

func (r *stubDeviceRepo) ListByOrganization(_ context.Context, _ string) ([]devices.Device, error) {
	return nil, nil
}

func (r *stubDeviceRepo) ListByTag(_ context.Context, _, _ string) ([]devices.Device, error) {
	return nil, nil
}

func (r *stubDeviceRepo) ListByExternalIDs(_ context.Context, _ []string) ([]devices.Device, error) {
	return nil, nil
}

func (r *stubDeviceRepo) Save(_ context.Context, device *devices.Device) error {
	r.saves++
	copied := *device
	r.devices[device.ExternalID] = &copied
	return nil
}

func (r *stubDeviceRepo) MarkOfflineLastSeenBefore(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (r *stubDeviceRepo) CountByStatus(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type stubRecordRepo struct {
	inserted []telemetry.TelemetryRecord
}

func (r *stubRecordRepo) Insert(_ context.Context, record *telemetry.TelemetryRecord) error {
	r.inserted = append(r.inserted, *record)
	return nil
}

func (r *stubRecordRepo) ListByDevice(_ context.Context, deviceExternalID string, _, _ time.Time, _ int) ([]telemetry.TelemetryRecord, error) {
	var out []telemetry.TelemetryRecord
	for _, record := range r.inserted {
		if record.DeviceExternalID == deviceExternalID {
			out = append(out, record)
		}
	}
	return out, nil
}

type stubRecorder struct {
	calls int
	err   error
}

func (r *stubRecorder) ProcessTelemetry(_ context.Context, _ *devices.Device, measurements map[string]*float64, _ time.Time, _ string) (map[string]variables.VariableValue, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]variables.VariableValue)
	for name, value := range measurements {
		if value == nil {
			continue
		}
		out[name] = variables.VariableValue{Value: *value}
	}
	return out, nil
}

type stubEvaluator struct {
	records []telemetry.TelemetryRecord
	err     error
}

func (e *stubEvaluator) EvaluateRecord(_ context.Context, record telemetry.TelemetryRecord) error {
	e.records = append(e.records, record)
	return e.err
}

func ptr(v float64) *float64 { return &v }

func newTestService(t *testing.T, deviceRepo *stubDeviceRepo, recordRepo *stubRecordRepo, autoProvision bool, opts ...ServiceOption) *Service {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opts = append(opts, WithClock(fixedClock{now: now}))
	service, err := NewService(deviceRepo, recordRepo, &stubRecorder{}, autoProvision, "org-default", log.New(os.Stderr, "", 0), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return service
}

func TestIngestAutoProvisionsUnknownDevice(t *testing.T) {
	deviceRepo := newStubDeviceRepo()
	recordRepo := &stubRecordRepo{}
	service := newTestService(t, deviceRepo, recordRepo, true)

	record, err := service.Ingest(context.Background(), IngestRequest{
		DeviceExternalID: "dev-new",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
		Metadata:         map[string]string{"name": "Pump 7", "location": "basement"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.OrganizationID != "org-default" {
		t.Fatalf("record organization = %q, want the configured default", record.OrganizationID)
	}

	device := deviceRepo.devices["dev-new"]
	if device == nil {
		t.Fatal("device was not provisioned")
	}
	if device.Status != devices.StatusOnline {
		t.Fatalf("device status = %s, want ONLINE", device.Status)
	}
	if device.Name != "Pump 7" || device.Location != "basement" {
		t.Fatalf("metadata not folded into the profile: %+v", device)
	}
	if len(recordRepo.inserted) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(recordRepo.inserted))
	}
}

func TestIngestUsesTokenOrganization(t *testing.T) {
	deviceRepo := newStubDeviceRepo()
	service := newTestService(t, deviceRepo, &stubRecordRepo{}, true)

	ctx := auth.WithDevicePrincipal(context.Background(), "org-token", "dev-new")
	record, err := service.Ingest(ctx, IngestRequest{
		DeviceExternalID: "dev-new",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.OrganizationID != "org-token" {
		t.Fatalf("record organization = %q, want the token's organization", record.OrganizationID)
	}
}

func TestIngestRejectsMismatchedToken(t *testing.T) {
	service := newTestService(t, newStubDeviceRepo(), &stubRecordRepo{}, true)

	ctx := auth.WithDevicePrincipal(context.Background(), "org-token", "dev-a")
	_, err := service.Ingest(ctx, IngestRequest{
		DeviceExternalID: "dev-b",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
}

func TestIngestRejectsUnknownDeviceWhenProvisioningOff(t *testing.T) {
	deviceRepo := newStubDeviceRepo()
	recordRepo := &stubRecordRepo{}
	service := newTestService(t, deviceRepo, recordRepo, false)

	_, err := service.Ingest(context.Background(), IngestRequest{
		DeviceExternalID: "dev-unknown",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if !errors.Is(err, ErrAutoProvisionDisabled) {
		t.Fatalf("expected ErrAutoProvisionDisabled, got %v", err)
	}
	if len(recordRepo.inserted) != 0 {
		t.Fatal("nothing may be persisted for a rejected device")
	}
}

func TestIngestMarksKnownDeviceOnline(t *testing.T) {
	stale := &devices.Device{
		ExternalID:     "dev-1",
		OrganizationID: "org-1",
		Status:         devices.StatusOffline,
		LastSeenAt:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	deviceRepo := newStubDeviceRepo(stale)
	service := newTestService(t, deviceRepo, &stubRecordRepo{}, false)

	record, err := service.Ingest(context.Background(), IngestRequest{
		DeviceExternalID: "dev-1",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.OrganizationID != "org-1" {
		t.Fatalf("record organization = %q, want the device's organization", record.OrganizationID)
	}
	device := deviceRepo.devices["dev-1"]
	if device.Status != devices.StatusOnline {
		t.Fatalf("device status = %s, want ONLINE", device.Status)
	}
	if !device.LastSeenAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("last seen not advanced: %v", device.LastSeenAt)
	}
}

func TestIngestShieldsSenderFromEvaluatorFailure(t *testing.T) {
	deviceRepo := newStubDeviceRepo()
	recordRepo := &stubRecordRepo{}
	evaluator := &stubEvaluator{err: errors.New("rule store down")}
	service := newTestService(t, deviceRepo, recordRepo, true, WithEvaluator(evaluator))

	record, err := service.Ingest(context.Background(), IngestRequest{
		DeviceExternalID: "dev-new",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if err != nil {
		t.Fatalf("evaluation failures must stay invisible to the sender, got %v", err)
	}
	if record == nil {
		t.Fatal("the persisted record is still returned")
	}
	if len(recordRepo.inserted) != 1 {
		t.Fatalf("expected 1 durable record, got %d", len(recordRepo.inserted))
	}
	if len(evaluator.records) != 1 {
		t.Fatalf("evaluator must see the persisted record, got %d", len(evaluator.records))
	}
}

func TestIngestDefaultsMissingTimestamp(t *testing.T) {
	deviceRepo := newStubDeviceRepo()
	recordRepo := &stubRecordRepo{}
	service := newTestService(t, deviceRepo, recordRepo, true)

	record, err := service.Ingest(context.Background(), IngestRequest{
		DeviceExternalID: "dev-new",
		Measurements:     map[string]*float64{"temperature": ptr(21.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !record.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want the ingest clock %v", record.Timestamp, want)
	}
}
