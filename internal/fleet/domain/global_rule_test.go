package fleet

import (
	"errors"
	"testing"

	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

func validRule() GlobalRule {
	return GlobalRule{
		ID:             "gr-1",
		OrganizationID: "org-1",
		Name:           "fleet offline watch",
		SelectorType:   SelectorOrganization,
		Aggregation:    AggCountOffline,
		Operator:       rules.OperatorGreater,
		Threshold:      3,
	}
}

func TestGlobalRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	valueAgg := validRule()
	valueAgg.Aggregation = AggAvg
	if err := valueAgg.Validate(); !errors.Is(err, ErrInvalidAggregation) {
		t.Fatalf("value aggregation without a variable must be rejected, got %v", err)
	}
	valueAgg.VariableName = "temperature"
	if err := valueAgg.Validate(); err != nil {
		t.Fatalf("value aggregation with a variable rejected: %v", err)
	}

	tagRule := validRule()
	tagRule.SelectorType = SelectorTag
	if err := tagRule.Validate(); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("TAG selector without a tag must be rejected, got %v", err)
	}
	tagRule.Tag = "pumps"
	if err := tagRule.Validate(); err != nil {
		t.Fatalf("TAG selector with a tag rejected: %v", err)
	}

	listRule := validRule()
	listRule.SelectorType = SelectorDevices
	if err := listRule.Validate(); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("DEVICES selector without ids must be rejected, got %v", err)
	}
	listRule.DeviceExternalIDs = []string{"dev-1"}
	if err := listRule.Validate(); err != nil {
		t.Fatalf("DEVICES selector with ids rejected: %v", err)
	}

	badOp := validRule()
	badOp.Operator = "~"
	if err := badOp.Validate(); !errors.Is(err, rules.ErrInvalidOperator) {
		t.Fatalf("unknown operator must be rejected, got %v", err)
	}

	badAgg := validRule()
	badAgg.Aggregation = "MEDIAN"
	if err := badAgg.Validate(); !errors.Is(err, ErrInvalidAggregation) {
		t.Fatalf("unknown aggregation must be rejected, got %v", err)
	}

	badSelector := validRule()
	badSelector.SelectorType = "REGION"
	if err := badSelector.Validate(); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("unknown selector must be rejected, got %v", err)
	}
}

func TestParseAggregationFunction(t *testing.T) {
	parsed, err := ParseAggregationFunction("COUNT_ONLINE")
	if err != nil {
		t.Fatal(err)
	}
	if parsed != AggCountOnline {
		t.Fatalf("parsed = %s", parsed)
	}
	if parsed.RequiresVariable() {
		t.Fatal("COUNT_ONLINE must not require a variable")
	}
	if !AggSum.RequiresVariable() {
		t.Fatal("SUM must require a variable")
	}
	if _, err := ParseAggregationFunction("MEDIAN"); !errors.Is(err, ErrInvalidAggregation) {
		t.Fatalf("expected ErrInvalidAggregation, got %v", err)
	}
}
