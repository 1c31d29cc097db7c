// Package pathway defines the immutable NHG guideline template model.
package pathway

import (
	"errors"
	"fmt"
)

// Condition is the disease category a template covers.
type Condition string

const (
	ConditionT2DM         Condition = "t2dm"
	ConditionHypertension Condition = "hypertension"
	ConditionRespiratory  Condition = "respiratory"
)

// Text carries the bilingual (Dutch/English) labels the practice UI renders.
type Text struct {
	NL string `json:"nl"`
	EN string `json:"en"`
}

// Channel is a notification channel a step can be announced on.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelEmail     Channel = "email"
	ChannelPhone     Channel = "phone"
	ChannelDashboard Channel = "dashboard"
)

// Step is a single scheduled action within a pathway.
type Step struct {
	ID        string    `json:"id"`
	Name      Text      `json:"name"`
	Trigger   Text      `json:"trigger"`
	Action    Text      `json:"action"`
	Delay     int       `json:"delay"` // days from pathway start, >= 0
	Enabled   bool      `json:"enabled"`
	Automated bool      `json:"automated"`
	Channels  []Channel `json:"channels,omitempty"`
}

// Summary holds derived template metadata shown on tiles.
type Summary struct {
	StepCount    int    `json:"step_count"`
	DurationDays int    `json:"duration_days"`
	Priority     string `json:"priority"`
}

// Template is an immutable, versioned NHG guideline template.
// Templates are seeded once and never mutated in place; local changes are
// expressed as overrides layered on top.
type Template struct {
	ID           string             `json:"id"`
	Name         Text               `json:"name"`
	Description  Text               `json:"description"`
	Condition    Condition          `json:"condition"`
	Version      string             `json:"version"`
	IsNHGDefault bool               `json:"is_nhg_default"`
	Steps        []Step             `json:"steps"`
	Thresholds   map[string]float64 `json:"thresholds"`
	Summary      Summary            `json:"summary"`
}

// ErrNoEntryStep indicates a template without a delay-zero step.
var ErrNoEntryStep = errors.New("template has no step with delay 0")

// Validate checks the structural invariants a seeded template must hold.
func (t *Template) Validate() error {
	if t.ID == "" {
		return errors.New("template id is required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", t.ID)
	}
	hasEntry := false
	for _, s := range t.Steps {
		if s.Delay < 0 {
			return fmt.Errorf("template %s step %s has negative delay", t.ID, s.ID)
		}
		if s.Delay == 0 {
			hasEntry = true
		}
	}
	if !hasEntry {
		return fmt.Errorf("template %s: %w", t.ID, ErrNoEntryStep)
	}
	return nil
}

// Step returns the step with the given id.
func (t *Template) Step(id string) (Step, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// StepIDs returns the ordered step ids.
func (t *Template) StepIDs() []string {
	ids := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		ids[i] = s.ID
	}
	return ids
}
