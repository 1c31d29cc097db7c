// Package validation checks an effective pathway (template plus override)
// for structural invariants and yields a publish-eligibility verdict.
package validation

import (
	"fmt"
	"strings"

	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// StepCategory is inferred from a step's id and action text and decides
// which notification channels the step must cover.
type StepCategory string

const (
	CategoryLabResult   StepCategory = "lab_result"
	CategoryAppointment StepCategory = "appointment"
	CategoryMedication  StepCategory = "medication"
	CategoryUrgent      StepCategory = "urgent"
	CategoryRoutine     StepCategory = "routine"
)

// requiredChannels maps a step category to the channels it must cover.
var requiredChannels = map[StepCategory][]pathway.Channel{
	CategoryLabResult:   {pathway.ChannelSMS, pathway.ChannelDashboard},
	CategoryAppointment: {pathway.ChannelPhone, pathway.ChannelDashboard},
	CategoryMedication:  {pathway.ChannelEmail, pathway.ChannelDashboard},
	CategoryUrgent:      {pathway.ChannelPhone, pathway.ChannelSMS, pathway.ChannelDashboard},
	CategoryRoutine:     {pathway.ChannelDashboard},
}

// Issue is a single validation finding with its NHG reference when one
// applies.
type Issue struct {
	Code    string `json:"code"`
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
	NHGRef  string `json:"nhg_ref,omitempty"`
}

// Result is the validation verdict. Errors block review/publish; warnings
// never do. Draft saving is always allowed.
type Result struct {
	IsValid                     bool              `json:"is_valid"`
	Errors                      []Issue           `json:"errors"`
	Warnings                    []Issue           `json:"warnings"`
	CanSaveDraft                bool              `json:"can_save_draft"`
	CanRequestReview            bool              `json:"can_request_review"`
	CanPublish                  bool              `json:"can_publish"`
	MissingRequiredSteps        []string          `json:"missing_required_steps"`
	MissingNotificationChannels map[string][]pathway.Channel `json:"missing_notification_channels"`
}

// annualCadenceFloor is the minimum effective delay for any step whose id
// marks it as an annual check.
const annualCadenceFloor = 350

// Validate computes the effective step list and runs all structural checks.
func Validate(t *pathway.Template, o *override.LocalOverride) Result {
	res := Result{
		CanSaveDraft:                true,
		MissingRequiredSteps:        []string{},
		MissingNotificationChannels: map[string][]pathway.Channel{},
	}
	steps := override.EffectiveSteps(t, o)

	// 1. Required steps present and enabled.
	for _, id := range pathway.RequiredSteps(t.Condition) {
		enabled := false
		for _, s := range steps {
			if s.ID == id && s.Enabled {
				enabled = true
				break
			}
		}
		if !enabled {
			res.MissingRequiredSteps = append(res.MissingRequiredSteps, id)
			res.Errors = append(res.Errors, Issue{
				Code:    "required_step_missing",
				StepID:  id,
				Message: fmt.Sprintf("required step %s is missing or disabled", id),
				NHGRef:  nhgRefFor(t.Condition),
			})
		}
	}

	// 2. Notification channel coverage per inferred category.
	for _, s := range steps {
		if !s.Enabled {
			continue
		}
		missing := missingChannels(s)
		if len(missing) > 0 {
			res.MissingNotificationChannels[s.ID] = missing
			res.Errors = append(res.Errors, Issue{
				Code:    "notification_channels_missing",
				StepID:  s.ID,
				Message: fmt.Sprintf("step %s lacks required channels %v for category %s", s.ID, missing, CategoryOf(s)),
			})
		}
	}

	// 3. Pathway integrity: an enabled entry point must exist.
	hasEntry := false
	for _, s := range steps {
		if s.Enabled && s.Delay == 0 {
			hasEntry = true
			break
		}
	}
	if !hasEntry {
		res.Errors = append(res.Errors, Issue{
			Code:    "no_entry_step",
			Message: "pathway has no enabled step with delay 0",
		})
	}

	// 4/5. Per-step delay checks against the original template.
	for _, s := range steps {
		orig, ok := t.Step(s.ID)
		if ok && o != nil {
			if patch, patched := o.Steps[s.ID]; patched && patch.Delay != nil {
				if isRequired(t.Condition, s.ID) && orig.Delay > 0 && s.Delay > 2*orig.Delay {
					res.Warnings = append(res.Warnings, Issue{
						Code:    "delay_doubled",
						StepID:  s.ID,
						Message: fmt.Sprintf("delay of required step %s more than doubled (%d -> %d days); verify clinical impact", s.ID, orig.Delay, s.Delay),
					})
				}
			}
		}
		if strings.Contains(s.ID, "annual") && s.Delay < annualCadenceFloor {
			res.Errors = append(res.Errors, Issue{
				Code:    "annual_cadence",
				StepID:  s.ID,
				Message: fmt.Sprintf("annual step %s cannot run more often than every %d days", s.ID, annualCadenceFloor),
			})
		}
	}

	// 6. Threshold safety bounds.
	thresholds := override.EffectiveThresholds(t, o)
	if v, ok := thresholds["hba1c_target"]; ok {
		if v < 42 {
			res.Errors = append(res.Errors, Issue{
				Code:    "hba1c_unsafe_floor",
				Message: fmt.Sprintf("HbA1c target %.0f mmol/mol is below the safe floor of 42", v),
				NHGRef:  "NHG M01",
			})
		} else if v > 75 {
			res.Warnings = append(res.Warnings, Issue{
				Code:    "hba1c_above_max",
				Message: fmt.Sprintf("HbA1c target %.0f mmol/mol exceeds the NHG maximum of 75", v),
				NHGRef:  "NHG M01",
			})
		}
	}
	if v, ok := thresholds["systolic_bp"]; ok {
		if v < 110 {
			res.Errors = append(res.Errors, Issue{
				Code:    "systolic_unsafe_floor",
				Message: fmt.Sprintf("systolic target %.0f mmHg is below the safe floor of 110", v),
				NHGRef:  "NHG M84",
			})
		} else if v > 180 {
			res.Warnings = append(res.Warnings, Issue{
				Code:    "systolic_above_max",
				Message: fmt.Sprintf("systolic target %.0f mmHg exceeds 180", v),
				NHGRef:  "NHG M84",
			})
		}
	}

	res.IsValid = len(res.Errors) == 0
	res.CanRequestReview = len(res.Errors) == 0
	res.CanPublish = len(res.Errors) == 0 &&
		len(res.MissingRequiredSteps) == 0 &&
		len(res.MissingNotificationChannels) == 0
	return res
}

// CategoryOf infers a step's category from keywords in its id and action
// text, most specific first.
func CategoryOf(s pathway.Step) StepCategory {
	text := strings.ToLower(s.ID + " " + s.Action.EN + " " + s.Action.NL)
	switch {
	case containsAny(text, "urgent", "exacerbat", "acute"):
		return CategoryUrgent
	case containsAny(text, "lab", "hba1c", "egfr", "albumin", "spirometr", "bloeddruk", "blood pressure"):
		return CategoryLabResult
	case containsAny(text, "medicat", "prescription", "inhal"):
		return CategoryMedication
	case containsAny(text, "appointment", "consult", "afspraak", "review"):
		return CategoryAppointment
	default:
		return CategoryRoutine
	}
}

func missingChannels(s pathway.Step) []pathway.Channel {
	var missing []pathway.Channel
	for _, required := range requiredChannels[CategoryOf(s)] {
		found := false
		for _, have := range s.Channels {
			if have == required {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, required)
		}
	}
	return missing
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func isRequired(c pathway.Condition, stepID string) bool {
	for _, id := range pathway.RequiredSteps(c) {
		if id == stepID {
			return true
		}
	}
	return false
}

func nhgRefFor(c pathway.Condition) string {
	switch c {
	case pathway.ConditionT2DM:
		return "NHG M01"
	case pathway.ConditionHypertension:
		return "NHG M84"
	case pathway.ConditionRespiratory:
		return "NHG M26"
	}
	return ""
}
