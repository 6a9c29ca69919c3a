package events

import "time"

// TelemetryReceived is published after a telemetry record has been persisted
// and its variables recorded.
type TelemetryReceived struct {
	RecordID         string              `json:"recordId"`
	DeviceExternalID string              `json:"deviceExternalId"`
	OrganizationID   string              `json:"organizationId"`
	OccurredAt       time.Time           `json:"occurredAt"`
	Measurements     map[string]*float64 `json:"measurements"`
}
