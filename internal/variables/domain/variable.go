package variables

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// Data source tags.
const (
	SourceAuto     = "AUTO"
	SourceDeclared = "DECLARED"
)

// ErrDuplicate is returned by Create when the store's uniqueness constraint
// on (device, name) rejects the insert. Callers treat it as a lost race, not
// a failure.
var ErrDuplicate = errors.New("variable: duplicate (device, name)")

// ErrRaceRecovery indicates a uniqueness violation whose follow-up read found
// no row. That is a store inconsistency, not a legitimate race.
var ErrRaceRecovery = errors.New("variable: conflict re-read found no row")

// Variable identifies a named measurement for one device. At most one row
// exists per (device, name), enforced by the store.
type Variable struct {
	ID               string
	DeviceExternalID string
	OrganizationID   string
	Name             string
	DisplayName      string
	DataSource       string
	LastValue        *float64
	LastValueAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks variable invariants.
func (v Variable) Validate() error {
	if v.ID == "" {
		return errors.New("variable: empty id")
	}
	if v.DeviceExternalID == "" {
		return errors.New("variable: empty device external id")
	}
	if v.OrganizationID == "" {
		return errors.New("variable: empty organization id")
	}
	if v.Name == "" {
		return errors.New("variable: empty name")
	}
	return nil
}

// VariableValue is an immutable timestamped sample of one variable.
type VariableValue struct {
	ID         string
	VariableID string
	Value      float64
	Timestamp  time.Time
	RecordID   string
	CreatedAt  time.Time
}

// Repository manages variable persistence. Reads return (nil, nil) when no
// row matches. Create must surface the store's uniqueness violation on
// (device, name) as ErrDuplicate.
type Repository interface {
	FindByDeviceAndName(ctx context.Context, deviceExternalID, name string) (*Variable, error)
	Create(ctx context.Context, variable *Variable) error
	UpdateLatest(ctx context.Context, variableID string, value float64, at time.Time) error
	ListByDevice(ctx context.Context, deviceExternalID string) ([]Variable, error)
	LatestValuesByDevices(ctx context.Context, deviceExternalIDs []string, name string) (map[string]float64, error)
}

// ValueRepository appends immutable samples.
type ValueRepository interface {
	Append(ctx context.Context, value *VariableValue) error
}

// HumanizeName derives a display name from a raw measurement name:
// underscores become spaces, camel-case boundaries split, words title-cased.
func HumanizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return name
	}

	spaced := strings.ReplaceAll(name, "_", " ")

	var split strings.Builder
	runes := []rune(spaced)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			split.WriteRune(' ')
		}
		split.WriteRune(r)
	}

	words := strings.Fields(split.String())
	for i, word := range words {
		lower := []rune(strings.ToLower(word))
		lower[0] = unicode.ToUpper(lower[0])
		words[i] = string(lower)
	}
	return strings.Join(words, " ")
}
