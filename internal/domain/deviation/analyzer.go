package deviation

import (
	"fmt"
	"sort"

	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// Type classifies what kind of difference from the NHG standard was found.
type Type string

const (
	TypeThreshold        Type = "threshold"
	TypeTiming           Type = "timing"
	TypeStepRemoval      Type = "step_removal"
	TypeStepAddition     Type = "step_addition"
	TypeStepModification Type = "step_modification"
)

// ImpactLevel rates one impact dimension.
type ImpactLevel string

const (
	ImpactMinimal  ImpactLevel = "minimal"
	ImpactModerate ImpactLevel = "moderate"
	ImpactSevere   ImpactLevel = "severe"
	ImpactCritical ImpactLevel = "critical"
)

// Impact rates a deviation on the three NHG impact dimensions.
type Impact struct {
	PatientSafety   ImpactLevel `json:"patient_safety"`
	ClinicalOutcome ImpactLevel `json:"clinical_outcome"`
	Compliance      ImpactLevel `json:"compliance"`
}

// Deviation is a single detected difference from the NHG standard. Derived
// data: produced fresh on every analysis call, never persisted or mutated.
type Deviation struct {
	Field          string            `json:"field"`
	StepID         string            `json:"step_id,omitempty"`
	Type           Type              `json:"type"`
	NHGValue       any               `json:"nhg_value"`
	LocalValue     any               `json:"local_value"`
	Risk           pathway.RiskLevel `json:"risk"`
	Impact         Impact            `json:"impact"`
	Rationale      pathway.Text      `json:"rationale"`
	Recommendation pathway.Text      `json:"recommendation"`
}

// Analyze compares an override against the condition's NHG standard and
// returns deviations sorted descending by risk (stable within a level).
func Analyze(t *pathway.Template, o *override.LocalOverride) []Deviation {
	var devs []Deviation
	if o == nil {
		return devs
	}

	devs = append(devs, thresholdDeviations(t, o)...)

	// Walk steps in template order so the sort below stays deterministic.
	for _, step := range t.Steps {
		patch, ok := o.Steps[step.ID]
		if !ok {
			continue
		}
		devs = append(devs, stepDeviations(t, step, patch)...)
	}

	sort.SliceStable(devs, func(i, j int) bool {
		return devs[i].Risk.Rank() > devs[j].Risk.Rank()
	})
	return devs
}

func thresholdDeviations(t *pathway.Template, o *override.LocalOverride) []Deviation {
	keys := make([]string, 0, len(o.Thresholds))
	for k := range o.Thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var devs []Deviation
	for _, key := range keys {
		local := o.Thresholds[key]
		std, ok := ThresholdStandard(t.Condition, key)
		if !ok || local == std.Value {
			continue
		}
		risk := pathway.RiskMedium
		if !std.InRange(local) {
			risk = pathway.RiskHigh
			if std.Critical {
				risk = pathway.RiskCritical
			}
		}
		devs = append(devs, Deviation{
			Field:      key,
			Type:       TypeThreshold,
			NHGValue:   std.Value,
			LocalValue: local,
			Risk:       risk,
			Impact:     impactFor(risk),
			Rationale: pathway.Text{
				NL: fmt.Sprintf("Drempelwaarde %s wijkt af van %s (%.1f %s)", key, std.NHGRef, std.Value, std.Unit),
				EN: fmt.Sprintf("Threshold %s deviates from %s (%.1f %s)", key, std.NHGRef, std.Value, std.Unit),
			},
			Recommendation: pathway.Text{
				NL: fmt.Sprintf("Houd %s binnen %.1f-%.1f %s of documenteer de afwijking", key, std.Min, std.Max, std.Unit),
				EN: fmt.Sprintf("Keep %s within %.1f-%.1f %s or document the deviation", key, std.Min, std.Max, std.Unit),
			},
		})
	}
	return devs
}

func stepDeviations(t *pathway.Template, step pathway.Step, patch override.StepPatch) []Deviation {
	var devs []Deviation

	// Disabling an NHG-required step is always critical: removal of
	// mandatory care is stricter than the generic field policy.
	if patch.Enabled != nil && !*patch.Enabled && isRequired(t.Condition, step.ID) {
		devs = append(devs, Deviation{
			Field:      "enabled",
			StepID:     step.ID,
			Type:       TypeStepRemoval,
			NHGValue:   true,
			LocalValue: false,
			Risk:       pathway.RiskCritical,
			Impact: Impact{
				PatientSafety:   ImpactCritical,
				ClinicalOutcome: ImpactSevere,
				Compliance:      ImpactSevere,
			},
			Rationale: pathway.Text{
				NL: fmt.Sprintf("Stap %s is verplicht volgens de NHG-standaard en mag niet vervallen", step.ID),
				EN: fmt.Sprintf("Step %s is mandatory under the NHG standard and must not be removed", step.ID),
			},
			Recommendation: pathway.Text{
				NL: "Herstel de stap; uitsluiting kan alleen per patiënt met contrasignatuur",
				EN: "Restore the step; exclusion is only possible per patient with a countersignature",
			},
		})
	}

	if patch.Delay != nil {
		if std, ok := TimingStandard(t.Condition, step.ID); ok && *patch.Delay != int(std.Value) {
			local := float64(*patch.Delay)
			risk := pathway.RiskMedium
			if !std.InRange(local) {
				risk = pathway.RiskHigh
				if std.Critical {
					risk = pathway.RiskCritical
				}
			}
			devs = append(devs, Deviation{
				Field:      "delay",
				StepID:     step.ID,
				Type:       TypeTiming,
				NHGValue:   std.Value,
				LocalValue: local,
				Risk:       risk,
				Impact:     impactFor(risk),
				Rationale: pathway.Text{
					NL: fmt.Sprintf("Interval van stap %s wijkt af van %s (%.0f dagen)", step.ID, std.NHGRef, std.Value),
					EN: fmt.Sprintf("Interval for step %s deviates from %s (%.0f days)", step.ID, std.NHGRef, std.Value),
				},
				Recommendation: pathway.Text{
					NL: fmt.Sprintf("Houd het interval binnen %.0f-%.0f dagen", std.Min, std.Max),
					EN: fmt.Sprintf("Keep the interval within %.0f-%.0f days", std.Min, std.Max),
				},
			})
		}
	}

	if patch.Action != nil {
		devs = append(devs, Deviation{
			Field:      "action",
			StepID:     step.ID,
			Type:       TypeStepModification,
			NHGValue:   step.Action.EN,
			LocalValue: patch.Action.EN,
			Risk:       pathway.RiskMedium,
			Impact:     impactFor(pathway.RiskMedium),
			Rationale: pathway.Text{
				NL: fmt.Sprintf("Actietekst van stap %s wijkt af van de standaardformulering", step.ID),
				EN: fmt.Sprintf("Action text of step %s deviates from the standard wording", step.ID),
			},
			Recommendation: pathway.Text{
				NL: "Controleer of de lokale formulering klinisch gelijkwaardig is",
				EN: "Verify the local wording is clinically equivalent",
			},
		})
	}

	return devs
}

func isRequired(c pathway.Condition, stepID string) bool {
	for _, id := range pathway.RequiredSteps(c) {
		if id == stepID {
			return true
		}
	}
	return false
}

func impactFor(risk pathway.RiskLevel) Impact {
	switch risk {
	case pathway.RiskCritical:
		return Impact{PatientSafety: ImpactCritical, ClinicalOutcome: ImpactSevere, Compliance: ImpactSevere}
	case pathway.RiskHigh:
		return Impact{PatientSafety: ImpactSevere, ClinicalOutcome: ImpactSevere, Compliance: ImpactModerate}
	case pathway.RiskMedium:
		return Impact{PatientSafety: ImpactModerate, ClinicalOutcome: ImpactModerate, Compliance: ImpactModerate}
	default:
		return Impact{PatientSafety: ImpactMinimal, ClinicalOutcome: ImpactMinimal, Compliance: ImpactMinimal}
	}
}
