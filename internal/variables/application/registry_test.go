package application

import (
	"context"
	"errors"
	"testing"
	"time"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubVariableRepo struct {
	byKey       map[string]*variables.Variable
	createErr   error
	creates     int
	finds       int
	updates     []struct {
		id    string
		value float64
		at    time.Time
	}
}

func newStubVariableRepo() *stubVariableRepo {
	return &stubVariableRepo{byKey: make(map[string]*variables.Variable)}
}

func key(deviceExternalID, name string) string { return deviceExternalID + "/" + name }

func (r *stubVariableRepo) FindByDeviceAndName(_ context.Context, deviceExternalID, name string) (*variables.Variable, error) {
	r.finds++
	if v, ok := r.byKey[key(deviceExternalID, name)]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, nil
}

func (r *stubVariableRepo) Create(_ context.Context, variable *variables.Variable) error {
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.byKey[key(variable.DeviceExternalID, variable.Name)]; ok {
		return variables.ErrDuplicate
	}
	copied := *variable
	r.byKey[key(variable.DeviceExternalID, variable.Name)] = &copied
	return nil
}

func (r *stubVariableRepo) UpdateLatest(_ context.Context, variableID string, value float64, at time.Time) error {
	r.updates = append(r.updates, struct {
		id    string
		value float64
		at    time.Time
	}{variableID, value, at})
	return nil
}

func (r *stubVariableRepo) ListByDevice(_ context.Context, deviceExternalID string) ([]variables.Variable, error) {
	var out []variables.Variable
	for _, v := range r.byKey {
		if v.DeviceExternalID == deviceExternalID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *stubVariableRepo) LatestValuesByDevices(_ context.Context, _ []string, _ string) (map[string]float64, error) {
	return nil, nil
}

type stubValueRepo struct {
	appended []variables.VariableValue
}

func (r *stubValueRepo) Append(_ context.Context, value *variables.VariableValue) error {
	r.appended = append(r.appended, *value)
	return nil
}

func testDevice() *devices.Device {
	return &devices.Device{ExternalID: "dev-1", OrganizationID: "org-1"}
}

func TestGetOrCreateProvisionsOnFirstSight(t *testing.T) {
	varRepo := newStubVariableRepo()
	registry, err := NewRegistry(varRepo, &stubValueRepo{})
	if err != nil {
		t.Fatal(err)
	}

	created, err := registry.GetOrCreate(context.Background(), testDevice(), "water_level")
	if err != nil {
		t.Fatal(err)
	}
	if created.DisplayName != "Water Level" {
		t.Fatalf("display name = %q, want %q", created.DisplayName, "Water Level")
	}
	if created.DataSource != variables.SourceAuto {
		t.Fatalf("data source = %q, want %q", created.DataSource, variables.SourceAuto)
	}

	again, err := registry.GetOrCreate(context.Background(), testDevice(), "water_level")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != created.ID {
		t.Fatalf("second resolve returned a different variable: %s vs %s", again.ID, created.ID)
	}
	if varRepo.creates != 1 {
		t.Fatalf("expected exactly one create, got %d", varRepo.creates)
	}
}

func TestGetOrCreateRecoversFromLostRace(t *testing.T) {
	varRepo := newStubVariableRepo()
	winner := &variables.Variable{ID: "v-winner", DeviceExternalID: "dev-1", OrganizationID: "org-1", Name: "temperature"}
	registry, err := NewRegistry(varRepo, &stubValueRepo{})
	if err != nil {
		t.Fatal(err)
	}

	// Another writer slips in between the miss and the insert.
	varRepo.createErr = variables.ErrDuplicate
	varRepo.byKey[key("dev-1", "temperature")] = winner

	resolved, err := registry.GetOrCreate(context.Background(), testDevice(), "temperature")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.ID != "v-winner" {
		t.Fatalf("expected the concurrent writer's row, got %s", resolved.ID)
	}
}

func TestGetOrCreateSurfacesMissingWinner(t *testing.T) {
	varRepo := newStubVariableRepo()
	varRepo.createErr = variables.ErrDuplicate
	registry, err := NewRegistry(varRepo, &stubValueRepo{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = registry.GetOrCreate(context.Background(), testDevice(), "temperature")
	if !errors.Is(err, variables.ErrRaceRecovery) {
		t.Fatalf("expected ErrRaceRecovery, got %v", err)
	}
}

func TestRecordValueAdvancesLatestMonotonically(t *testing.T) {
	varRepo := newStubVariableRepo()
	valueRepo := &stubValueRepo{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry, err := NewRegistry(varRepo, valueRepo, WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatal(err)
	}
	variable := &variables.Variable{ID: "v1", DeviceExternalID: "dev-1", OrganizationID: "org-1", Name: "temperature"}

	if _, err := registry.RecordValue(context.Background(), variable, 20, now, "rec-1"); err != nil {
		t.Fatal(err)
	}
	if len(varRepo.updates) != 1 || variable.LastValue == nil || *variable.LastValue != 20 {
		t.Fatalf("first sample must set the latest value: updates=%d", len(varRepo.updates))
	}

	// Strictly older samples are stored but never move the projection back.
	if _, err := registry.RecordValue(context.Background(), variable, 15, now.Add(-time.Minute), "rec-0"); err != nil {
		t.Fatal(err)
	}
	if len(varRepo.updates) != 1 {
		t.Fatal("older sample must not rewrite the latest value")
	}
	if *variable.LastValue != 20 {
		t.Fatalf("latest value = %v, want 20", *variable.LastValue)
	}

	// A sample at the same instant counts as fresh.
	if _, err := registry.RecordValue(context.Background(), variable, 21, now, "rec-2"); err != nil {
		t.Fatal(err)
	}
	if len(varRepo.updates) != 2 || *variable.LastValue != 21 {
		t.Fatalf("equal-timestamp sample must win: updates=%d latest=%v", len(varRepo.updates), *variable.LastValue)
	}

	if len(valueRepo.appended) != 3 {
		t.Fatalf("every sample is appended regardless of ordering, got %d", len(valueRepo.appended))
	}
}

func TestProcessTelemetrySkipsNullMeasurements(t *testing.T) {
	varRepo := newStubVariableRepo()
	valueRepo := &stubValueRepo{}
	registry, err := NewRegistry(varRepo, valueRepo)
	if err != nil {
		t.Fatal(err)
	}

	reading := 42.5
	recorded, err := registry.ProcessTelemetry(context.Background(), testDevice(), map[string]*float64{
		"temperature": &reading,
		"humidity":    nil,
	}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), "rec-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded measurement, got %d", len(recorded))
	}
	if _, ok := recorded["humidity"]; ok {
		t.Fatal("null measurement must not reach the catalog")
	}
	if _, ok := varRepo.byKey[key("dev-1", "humidity")]; ok {
		t.Fatal("null measurement must not provision a variable")
	}
}

func TestProcessTelemetryEmptySetTouchesNothing(t *testing.T) {
	varRepo := newStubVariableRepo()
	valueRepo := &stubValueRepo{}
	registry, err := NewRegistry(varRepo, valueRepo)
	if err != nil {
		t.Fatal(err)
	}

	recorded, err := registry.ProcessTelemetry(context.Background(), testDevice(), nil, time.Time{}, "rec-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 0 {
		t.Fatalf("expected no recorded measurements, got %d", len(recorded))
	}
	if varRepo.finds != 0 || varRepo.creates != 0 || len(valueRepo.appended) != 0 {
		t.Fatal("empty measurement set must not touch the store")
	}
}
