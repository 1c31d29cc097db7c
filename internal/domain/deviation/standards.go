// Package deviation compares local overrides against the NHG standard and
// rates each difference for clinical impact.
package deviation

import "github.com/zorgflow/carepath/internal/domain/pathway"

// Standard is an NHG reference value with its acceptable range.
type Standard struct {
	Value    float64
	Min      float64
	Max      float64
	Unit     string
	Critical bool
	NHGRef   string
}

// InRange reports whether a local value stays inside the acceptable range.
func (s Standard) InRange(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// thresholdStandards holds the NHG reference thresholds per condition,
// keyed by threshold name.
var thresholdStandards = map[pathway.Condition]map[string]Standard{
	pathway.ConditionT2DM: {
		"hba1c_target":  {Value: 53, Min: 42, Max: 75, Unit: "mmol/mol", Critical: true, NHGRef: "NHG M01"},
		"systolic_bp":   {Value: 140, Min: 110, Max: 180, Unit: "mmHg", Critical: true, NHGRef: "NHG M84"},
		"ldl_target":    {Value: 2.6, Min: 1.8, Max: 3.5, Unit: "mmol/l", Critical: false, NHGRef: "NHG M84"},
		"egfr_floor":    {Value: 60, Min: 30, Max: 90, Unit: "ml/min", Critical: true, NHGRef: "NHG M01"},
		"review_months": {Value: 3, Min: 1, Max: 6, Unit: "months", Critical: false, NHGRef: "NHG M01"},
	},
	pathway.ConditionHypertension: {
		"systolic_bp":   {Value: 140, Min: 110, Max: 180, Unit: "mmHg", Critical: true, NHGRef: "NHG M84"},
		"diastolic_bp":  {Value: 90, Min: 70, Max: 110, Unit: "mmHg", Critical: true, NHGRef: "NHG M84"},
		"ldl_target":    {Value: 2.6, Min: 1.8, Max: 3.5, Unit: "mmol/l", Critical: false, NHGRef: "NHG M84"},
		"review_months": {Value: 6, Min: 3, Max: 12, Unit: "months", Critical: false, NHGRef: "NHG M84"},
	},
	pathway.ConditionRespiratory: {
		"fev1_alert":    {Value: 70, Min: 50, Max: 80, Unit: "%pred", Critical: true, NHGRef: "NHG M26"},
		"review_months": {Value: 6, Min: 3, Max: 12, Unit: "months", Critical: false, NHGRef: "NHG M27"},
	},
}

// timingStandards holds the NHG step timing intervals per condition,
// keyed by step id. Values are days from pathway start.
var timingStandards = map[pathway.Condition]map[string]Standard{
	pathway.ConditionT2DM: {
		"hba1c_monitoring": {Value: 90, Min: 60, Max: 180, Unit: "days", Critical: false, NHGRef: "NHG M01"},
		"foot_examination": {Value: 180, Min: 90, Max: 365, Unit: "days", Critical: false, NHGRef: "NHG M01"},
		"kidney_function":  {Value: 180, Min: 90, Max: 365, Unit: "days", Critical: false, NHGRef: "NHG M01"},
		"annual_review":    {Value: 365, Min: 350, Max: 400, Unit: "days", Critical: true, NHGRef: "NHG M01"},
	},
	pathway.ConditionHypertension: {
		"bp_monitoring":     {Value: 30, Min: 14, Max: 90, Unit: "days", Critical: false, NHGRef: "NHG M84"},
		"medication_review": {Value: 90, Min: 30, Max: 180, Unit: "days", Critical: false, NHGRef: "NHG M84"},
		"annual_review":     {Value: 365, Min: 350, Max: 400, Unit: "days", Critical: true, NHGRef: "NHG M84"},
	},
	pathway.ConditionRespiratory: {
		"exacerbation_check": {Value: 60, Min: 30, Max: 120, Unit: "days", Critical: false, NHGRef: "NHG M26"},
		"spirometry_check":   {Value: 180, Min: 90, Max: 365, Unit: "days", Critical: false, NHGRef: "NHG M26"},
		"annual_review":      {Value: 365, Min: 350, Max: 400, Unit: "days", Critical: true, NHGRef: "NHG M27"},
	},
}

// ThresholdStandard returns the NHG reference for a threshold, if defined.
func ThresholdStandard(c pathway.Condition, key string) (Standard, bool) {
	s, ok := thresholdStandards[c][key]
	return s, ok
}

// TimingStandard returns the NHG timing interval for a step, if defined.
func TimingStandard(c pathway.Condition, stepID string) (Standard, bool) {
	s, ok := timingStandards[c][stepID]
	return s, ok
}
