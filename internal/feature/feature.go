// Package feature holds runtime feature toggles.
package feature

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adyach/nakadi/internal/domain"
)

// Feature is a toggle identifier.
type Feature string

const (
	ConnectionCloseCrutch            Feature = "close_crutch"
	DisableEventTypeCreation         Feature = "disable_event_type_creation"
	DisableEventTypeDeletion         Feature = "disable_event_type_deletion"
	DisableSubscriptionCreation      Feature = "disable_subscription_creation"
	HighLevelAPI                     Feature = "high_level_api"
	CheckPartitionsKeys              Feature = "check_partitions_keys"
	CheckOwningApplication           Feature = "check_owning_application"
	LimitConsumersNumber             Feature = "limit_consumers_number"
	SendBatchViaOutputStream         Feature = "send_batch_via_output_stream"
	CheckApplicationLevelPermissions Feature = "check_application_level_permissions"
)

var all = []Feature{
	ConnectionCloseCrutch,
	DisableEventTypeCreation,
	DisableEventTypeDeletion,
	DisableSubscriptionCreation,
	HighLevelAPI,
	CheckPartitionsKeys,
	CheckOwningApplication,
	LimitConsumersNumber,
	SendBatchViaOutputStream,
	CheckApplicationLevelPermissions,
}

// All returns every known feature.
func All() []Feature { return append([]Feature(nil), all...) }

// Parse maps an id to a known Feature.
func Parse(id string) (Feature, error) {
	for _, f := range all {
		if string(f) == id {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidArgument, id)
}

// State pairs a feature with its current value.
type State struct {
	Feature Feature `json:"feature" yaml:"feature"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
}

// Toggles is an in-memory toggle set seeded from configuration.
type Toggles struct {
	mu      sync.RWMutex
	enabled map[Feature]bool
}

// NewToggles builds Toggles from a feature id → enabled map. Unknown ids
// are rejected so typos in configuration surface at start.
func NewToggles(values map[string]bool) (*Toggles, error) {
	t := &Toggles{enabled: make(map[Feature]bool, len(values))}
	for id, on := range values {
		f, err := Parse(id)
		if err != nil {
			return nil, err
		}
		t.enabled[f] = on
	}
	return t, nil
}

// IsEnabled reports whether f is on. Unset features are off.
func (t *Toggles) IsEnabled(f Feature) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled[f]
}

// Set changes the value of f.
func (t *Toggles) Set(f Feature, enabled bool) {
	t.mu.Lock()
	t.enabled[f] = enabled
	t.mu.Unlock()
}

// CheckFeatureOn fails with ErrFeatureNotAvailable when f is off.
func (t *Toggles) CheckFeatureOn(f Feature) error {
	if !t.IsEnabled(f) {
		return fmt.Errorf("%w: feature %s is disabled", domain.ErrFeatureNotAvailable, f)
	}
	return nil
}

// States returns every known feature with its value, sorted by id.
func (t *Toggles) States() []State {
	out := make([]State, 0, len(all))
	for _, f := range all {
		out = append(out, State{Feature: f, Enabled: t.IsEnabled(f)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}
