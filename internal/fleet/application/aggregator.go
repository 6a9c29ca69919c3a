package application

import (
	"context"
	"errors"
	"fmt"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
)

// LatestValueReader reads the latest value of one named variable for a device
// set. Devices without a value are absent from the result.
type LatestValueReader interface {
	LatestValuesByDevices(ctx context.Context, deviceExternalIDs []string, name string) (map[string]float64, error)
}

// FallbackLatestReader reads from a primary (typically the cache) and fills
// misses from a fallback (typically Postgres). A primary failure degrades to
// a full fallback read.
type FallbackLatestReader struct {
	Primary  LatestValueReader
	Fallback LatestValueReader
}

// LatestValuesByDevices merges primary hits with fallback values for misses.
func (r FallbackLatestReader) LatestValuesByDevices(ctx context.Context, deviceExternalIDs []string, name string) (map[string]float64, error) {
	if r.Fallback == nil {
		return nil, errors.New("fleet: nil fallback reader")
	}
	if r.Primary == nil {
		return r.Fallback.LatestValuesByDevices(ctx, deviceExternalIDs, name)
	}
	values, err := r.Primary.LatestValuesByDevices(ctx, deviceExternalIDs, name)
	if err != nil {
		return r.Fallback.LatestValuesByDevices(ctx, deviceExternalIDs, name)
	}
	var missing []string
	for _, id := range deviceExternalIDs {
		if _, ok := values[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return values, nil
	}
	rest, err := r.Fallback.LatestValuesByDevices(ctx, missing, name)
	if err != nil {
		return nil, err
	}
	for id, value := range rest {
		values[id] = value
	}
	return values, nil
}

// Aggregator resolves a global rule's device selection and folds it into one
// number.
type Aggregator struct {
	devices devices.DeviceRepository
	latest  LatestValueReader
}

// NewAggregator constructs an aggregator.
func NewAggregator(deviceRepo devices.DeviceRepository, latest LatestValueReader) (*Aggregator, error) {
	if deviceRepo == nil {
		return nil, errors.New("fleet: nil device repo")
	}
	if latest == nil {
		return nil, errors.New("fleet: nil latest value reader")
	}
	return &Aggregator{devices: deviceRepo, latest: latest}, nil
}

// SelectDevices resolves the rule's selector to concrete devices.
func (a *Aggregator) SelectDevices(ctx context.Context, rule fleet.GlobalRule) ([]devices.Device, error) {
	if a == nil {
		return nil, errors.New("fleet: nil aggregator")
	}
	switch rule.SelectorType {
	case fleet.SelectorOrganization:
		return a.devices.ListByOrganization(ctx, rule.OrganizationID)
	case fleet.SelectorTag:
		return a.devices.ListByTag(ctx, rule.OrganizationID, rule.Tag)
	case fleet.SelectorDevices:
		selected, err := a.devices.ListByExternalIDs(ctx, rule.DeviceExternalIDs)
		if err != nil {
			return nil, err
		}
		// The explicit list may cross organizations by mistake; keep only
		// the rule's own.
		filtered := selected[:0]
		for _, device := range selected {
			if device.OrganizationID == rule.OrganizationID {
				filtered = append(filtered, device)
			}
		}
		return filtered, nil
	default:
		return nil, fmt.Errorf("%w: %q", fleet.ErrInvalidSelector, rule.SelectorType)
	}
}

// Aggregate computes the rule's aggregate over its selected devices. It
// returns the aggregate, the number of devices selected, and ErrNoData when
// a value aggregation finds no latest values.
func (a *Aggregator) Aggregate(ctx context.Context, rule fleet.GlobalRule) (float64, int, error) {
	if a == nil {
		return 0, 0, errors.New("fleet: nil aggregator")
	}
	selected, err := a.SelectDevices(ctx, rule)
	if err != nil {
		return 0, 0, err
	}

	switch rule.Aggregation {
	case fleet.AggCountDevices:
		return float64(len(selected)), len(selected), nil
	case fleet.AggCountOnline:
		return float64(countStatus(selected, devices.StatusOnline)), len(selected), nil
	case fleet.AggCountOffline:
		return float64(countStatus(selected, devices.StatusOffline)), len(selected), nil
	}

	if !rule.Aggregation.RequiresVariable() {
		return 0, 0, fmt.Errorf("%w: %q", fleet.ErrInvalidAggregation, rule.Aggregation)
	}
	if len(selected) == 0 {
		return 0, 0, fleet.ErrNoData
	}
	ids := make([]string, len(selected))
	for i, device := range selected {
		ids[i] = device.ExternalID
	}
	values, err := a.latest.LatestValuesByDevices(ctx, ids, rule.VariableName)
	if err != nil {
		return 0, 0, err
	}
	if len(values) == 0 {
		return 0, 0, fleet.ErrNoData
	}
	aggregate, err := fold(rule.Aggregation, values)
	if err != nil {
		return 0, 0, err
	}
	return aggregate, len(selected), nil
}

func countStatus(selected []devices.Device, status string) int {
	count := 0
	for _, device := range selected {
		if device.Status == status {
			count++
		}
	}
	return count
}

func fold(fn fleet.AggregationFunction, values map[string]float64) (float64, error) {
	first := true
	var sum, min, max float64
	for _, value := range values {
		sum += value
		if first {
			min, max = value, value
			first = false
			continue
		}
		if value < min {
			min = value
		}
		if value > max {
			max = value
		}
	}
	switch fn {
	case fleet.AggAvg:
		return sum / float64(len(values)), nil
	case fleet.AggSum:
		return sum, nil
	case fleet.AggMin:
		return min, nil
	case fleet.AggMax:
		return max, nil
	default:
		return 0, fmt.Errorf("%w: %q", fleet.ErrInvalidAggregation, fn)
	}
}
