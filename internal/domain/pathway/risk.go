package pathway

// RiskLevel is the shared clinical risk vocabulary used by the risk
// classifier, the deviation analyzer and the audit trail.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank maps a risk level to its ordering weight (low=1 .. critical=4).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Max returns the higher of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// criticalSteps are steps whose removal or disablement is clinically
// mandatory-to-keep. Excluding one for a patient requires a countersignature.
var criticalSteps = map[string]bool{
	"annual_review":      true,
	"hba1c_monitoring":   true,
	"medication_review":  true,
	"bp_monitoring":      true,
	"spirometry_check":   true,
	"foot_examination":   true,
	"kidney_function":    true,
	"exacerbation_check": true,
}

// IsCriticalStep reports whether the step id is in the fixed critical set.
func IsCriticalStep(stepID string) bool {
	return criticalSteps[stepID]
}

// requiredSteps lists, per condition, the steps an effective pathway must
// keep present and enabled to stay within the NHG standard.
var requiredSteps = map[Condition][]string{
	ConditionT2DM:         {"annual_review", "hba1c_monitoring", "foot_examination", "kidney_function"},
	ConditionHypertension: {"annual_review", "bp_monitoring", "medication_review"},
	ConditionRespiratory:  {"annual_review", "spirometry_check", "exacerbation_check"},
}

// RequiredSteps returns the NHG-required step ids for a condition.
func RequiredSteps(c Condition) []string {
	return requiredSteps[c]
}
