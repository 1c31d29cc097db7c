// Package override implements local field-level overrides layered on NHG
// templates, the risk classifier and the approval gate.
package override

import (
	"context"
	"errors"
	"time"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// StepPatch is a sparse per-step modification. A nil field means the
// template value is unchanged. Patches are keyed by stable step id, never
// by position.
type StepPatch struct {
	Name      *pathway.Text      `json:"name,omitempty"`
	Trigger   *pathway.Text      `json:"trigger,omitempty"`
	Action    *pathway.Text      `json:"action,omitempty"`
	Delay     *int               `json:"delay,omitempty"`
	Enabled   *bool              `json:"enabled,omitempty"`
	Automated *bool              `json:"automated,omitempty"`
	Channels  *[]pathway.Channel `json:"channels,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p StepPatch) IsZero() bool {
	return p.Name == nil && p.Trigger == nil && p.Action == nil &&
		p.Delay == nil && p.Enabled == nil && p.Automated == nil && p.Channels == nil
}

// ChangedFields returns the field ids this patch touches.
func (p StepPatch) ChangedFields() []FieldID {
	var fields []FieldID
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.Trigger != nil {
		fields = append(fields, FieldTrigger)
	}
	if p.Action != nil {
		fields = append(fields, FieldAction)
	}
	if p.Delay != nil {
		fields = append(fields, FieldDelay)
	}
	if p.Enabled != nil {
		fields = append(fields, FieldEnabled)
	}
	if p.Automated != nil {
		fields = append(fields, FieldAutomated)
	}
	if p.Channels != nil {
		fields = append(fields, FieldChannels)
	}
	return fields
}

// LocalOverride is a sparse local modification layered on a template.
// It is created on first edit, risk-recomputed on every mutation, and only
// persisted with a non-empty justification. A revert supersedes it; an
// override is never silently deleted.
type LocalOverride struct {
	ID                 string               `json:"id"`
	OriginalTemplateID string               `json:"original_template_id"`
	TemplateVersion    string               `json:"template_version"`
	Name               pathway.Text         `json:"name"`
	Description        pathway.Text         `json:"description"`
	Steps              map[string]StepPatch `json:"steps"`
	Thresholds         map[string]float64   `json:"thresholds,omitempty"`
	RiskLevel          pathway.RiskLevel    `json:"risk_level"`
	PendingApproval    bool                 `json:"pending_approval"`
	ApprovedBy         []string             `json:"approved_by"`
	Justification      string               `json:"justification"`
	Author             string               `json:"author"`
	SupersededBy       string               `json:"superseded_by,omitempty"`
	LastModified       time.Time            `json:"last_modified"`
}

// ErrJustificationRequired blocks persisting an override without rationale.
var ErrJustificationRequired = errors.New("override justification is required")

// New creates an empty override for a template.
func New(id string, t *pathway.Template, author string) *LocalOverride {
	return &LocalOverride{
		ID:                 id,
		OriginalTemplateID: t.ID,
		TemplateVersion:    t.Version,
		Name:               t.Name,
		Description:        t.Description,
		Steps:              make(map[string]StepPatch),
		RiskLevel:          pathway.RiskLow,
		Author:             author,
		LastModified:       time.Now().UTC(),
	}
}

// SetStepPatch records a patch for a step and recomputes risk. An all-empty
// patch clears the entry so the step counts as unmodified again.
func (o *LocalOverride) SetStepPatch(t *pathway.Template, stepID string, patch StepPatch) error {
	if _, ok := t.Step(stepID); !ok {
		return errors.New("unknown step: " + stepID)
	}
	if o.Steps == nil {
		o.Steps = make(map[string]StepPatch)
	}
	if patch.IsZero() {
		delete(o.Steps, stepID)
	} else {
		o.Steps[stepID] = patch
	}
	o.recompute(t)
	return nil
}

// SetThreshold records a threshold override and recomputes risk.
func (o *LocalOverride) SetThreshold(t *pathway.Template, key string, value float64) {
	if o.Thresholds == nil {
		o.Thresholds = make(map[string]float64)
	}
	o.Thresholds[key] = value
	o.recompute(t)
}

func (o *LocalOverride) recompute(t *pathway.Template) {
	o.RiskLevel = CalculateRiskLevel(t, o)
	// An edit invalidates earlier sign-offs: approvals cover content, not
	// the record.
	o.ApprovedBy = nil
	o.PendingApproval = RequiresDualApproval(o.RiskLevel)
	o.LastModified = time.Now().UTC()
}

// IsEmpty reports whether the override changes nothing.
func (o *LocalOverride) IsEmpty() bool {
	return len(o.Steps) == 0 && len(o.Thresholds) == 0
}

// Clone returns a deep copy. The copy owns its Steps, Thresholds and
// ApprovedBy, so later edits to either side stay invisible to the other.
// Patch pointer fields stay shared: patches are replaced whole, never
// mutated in place.
func (o *LocalOverride) Clone() *LocalOverride {
	out := *o
	if o.Steps != nil {
		out.Steps = make(map[string]StepPatch, len(o.Steps))
		for id, patch := range o.Steps {
			out.Steps[id] = patch
		}
	}
	if o.Thresholds != nil {
		out.Thresholds = make(map[string]float64, len(o.Thresholds))
		for key, value := range o.Thresholds {
			out.Thresholds[key] = value
		}
	}
	out.ApprovedBy = append([]string(nil), o.ApprovedBy...)
	return &out
}

// EffectiveSteps merges the template steps with the override's patches.
// The override wins per field; steps keep template order.
func EffectiveSteps(t *pathway.Template, o *LocalOverride) []pathway.Step {
	steps := make([]pathway.Step, len(t.Steps))
	copy(steps, t.Steps)
	if o == nil {
		return steps
	}
	for i := range steps {
		patch, ok := o.Steps[steps[i].ID]
		if !ok {
			continue
		}
		if patch.Name != nil {
			steps[i].Name = *patch.Name
		}
		if patch.Trigger != nil {
			steps[i].Trigger = *patch.Trigger
		}
		if patch.Action != nil {
			steps[i].Action = *patch.Action
		}
		if patch.Delay != nil {
			steps[i].Delay = *patch.Delay
		}
		if patch.Enabled != nil {
			steps[i].Enabled = *patch.Enabled
		}
		if patch.Automated != nil {
			steps[i].Automated = *patch.Automated
		}
		if patch.Channels != nil {
			steps[i].Channels = *patch.Channels
		}
	}
	return steps
}

// EffectiveThresholds merges template thresholds with the override's.
func EffectiveThresholds(t *pathway.Template, o *LocalOverride) map[string]float64 {
	merged := make(map[string]float64, len(t.Thresholds))
	for k, v := range t.Thresholds {
		merged[k] = v
	}
	if o != nil {
		for k, v := range o.Thresholds {
			merged[k] = v
		}
	}
	return merged
}

// Repository persists overrides. Implementations must replace the stored
// record as a whole; there are no partial writes.
type Repository interface {
	Get(ctx context.Context, id string) (*LocalOverride, error)
	GetByTemplate(ctx context.Context, templateID string) (*LocalOverride, error)
	GetAll(ctx context.Context) ([]*LocalOverride, error)
	Save(ctx context.Context, o *LocalOverride) error
}

// ErrNotFound indicates a missing override.
var ErrNotFound = errors.New("override not found")
