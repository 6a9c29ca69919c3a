package events

import "time"

// RuleTriggered is published when a rule condition matches a record, before
// the resulting alert is announced.
type RuleTriggered struct {
	RuleID           string    `json:"ruleId"`
	OrganizationID   string    `json:"organizationId"`
	DeviceExternalID string    `json:"deviceExternalId"`
	VariableName     string    `json:"variableName"`
	Operator         string    `json:"operator"`
	Value            float64   `json:"value"`
	Threshold        float64   `json:"threshold"`
	OccurredAt       time.Time `json:"occurredAt"`
}
