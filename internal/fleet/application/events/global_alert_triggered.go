package events

import "time"

// GlobalAlertTriggered is published when a fleet-wide rule fires.
type GlobalAlertTriggered struct {
	GlobalAlertID  string    `json:"globalAlertId"`
	GlobalRuleID   string    `json:"globalRuleId"`
	OrganizationID string    `json:"organizationId"`
	Aggregation    string    `json:"aggregation"`
	VariableName   string    `json:"variableName,omitempty"`
	Value          float64   `json:"value"`
	Threshold      float64   `json:"threshold"`
	DeviceCount    int       `json:"deviceCount"`
	Severity       string    `json:"severity"`
	OccurredAt     time.Time `json:"occurredAt"`
}
