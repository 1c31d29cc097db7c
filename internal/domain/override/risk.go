package override

import (
	"strings"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// FieldID identifies an overridable step field. The set is closed: the
// policy switch below must classify every member, and fieldPolicy panics on
// anything unclassified so a new field cannot silently default to
// permissive.
type FieldID string

const (
	FieldName      FieldID = "name"
	FieldTrigger   FieldID = "trigger"
	FieldAction    FieldID = "action"
	FieldDelay     FieldID = "delay"
	FieldEnabled   FieldID = "enabled"
	FieldAutomated FieldID = "automated"
	FieldChannels  FieldID = "channels"
)

// FieldPolicy describes how risky editing a field is.
type FieldPolicy struct {
	Editable         bool
	Risk             pathway.RiskLevel
	RequiresApproval bool
}

func fieldPolicy(f FieldID) FieldPolicy {
	switch f {
	case FieldName:
		return FieldPolicy{Editable: true, Risk: pathway.RiskLow}
	case FieldTrigger:
		return FieldPolicy{Editable: true, Risk: pathway.RiskMedium}
	case FieldAction:
		return FieldPolicy{Editable: true, Risk: pathway.RiskMedium}
	case FieldDelay:
		return FieldPolicy{Editable: true, Risk: pathway.RiskMedium, RequiresApproval: true}
	case FieldEnabled:
		return FieldPolicy{Editable: true, Risk: pathway.RiskHigh, RequiresApproval: true}
	case FieldAutomated:
		return FieldPolicy{Editable: true, Risk: pathway.RiskLow}
	case FieldChannels:
		return FieldPolicy{Editable: true, Risk: pathway.RiskMedium}
	}
	panic("unclassified override field: " + string(f))
}

// FieldPolicyFor exposes the policy table for UI gating.
func FieldPolicyFor(f FieldID) FieldPolicy {
	return fieldPolicy(f)
}

// thresholdRisk classifies touching a named clinical threshold. HbA1c and
// blood-pressure targets are always high risk when touched.
func thresholdRisk(key string) pathway.RiskLevel {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "hba1c"):
		return pathway.RiskHigh
	case strings.Contains(k, "systolic"), strings.Contains(k, "diastolic"), strings.Contains(k, "bp"):
		return pathway.RiskHigh
	default:
		return pathway.RiskMedium
	}
}

// CalculateRiskLevel inspects every changed field against the policy tables
// and returns the maximum risk seen. Disabling a critical step forces high
// regardless of the generic field policy. Pure function; callers must
// recompute whenever the override's patches change.
func CalculateRiskLevel(t *pathway.Template, o *LocalOverride) pathway.RiskLevel {
	level := pathway.RiskLow
	if o == nil {
		return level
	}
	for stepID, patch := range o.Steps {
		for _, f := range patch.ChangedFields() {
			level = level.Max(fieldPolicy(f).Risk)
		}
		if patch.Enabled != nil && !*patch.Enabled && pathway.IsCriticalStep(stepID) {
			level = level.Max(pathway.RiskHigh)
		}
	}
	for key, local := range o.Thresholds {
		if orig, ok := t.Thresholds[key]; ok && orig == local {
			continue
		}
		level = level.Max(thresholdRisk(key))
	}
	return level
}
