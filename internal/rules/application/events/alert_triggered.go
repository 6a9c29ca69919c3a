package events

import "time"

// AlertTriggered is published when a device rule fires.
type AlertTriggered struct {
	AlertID          string    `json:"alertId"`
	RuleID           string    `json:"ruleId"`
	OrganizationID   string    `json:"organizationId"`
	DeviceExternalID string    `json:"deviceExternalId"`
	VariableName     string    `json:"variableName"`
	Value            float64   `json:"value"`
	Threshold        float64   `json:"threshold"`
	Severity         string    `json:"severity"`
	OccurredAt       time.Time `json:"occurredAt"`
}
