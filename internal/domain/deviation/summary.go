package deviation

import "github.com/zorgflow/carepath/internal/domain/pathway"

// Summary aggregates an analysis result for dashboard display.
type Summary struct {
	Total          int                       `json:"total"`
	ByRisk         map[pathway.RiskLevel]int `json:"by_risk"`
	ByType         map[Type]int              `json:"by_type"`
	RequiresReview bool                      `json:"requires_review"`
	OverallRisk    pathway.RiskLevel         `json:"overall_risk"`
}

// Summarize counts deviations by risk and type. A review is required when
// any critical deviation exists or more than two high ones do.
func Summarize(devs []Deviation) Summary {
	s := Summary{
		Total:  len(devs),
		ByRisk: make(map[pathway.RiskLevel]int),
		ByType: make(map[Type]int),
	}
	overall := pathway.RiskLow
	for _, d := range devs {
		s.ByRisk[d.Risk]++
		s.ByType[d.Type]++
		overall = overall.Max(d.Risk)
	}
	s.OverallRisk = overall
	s.RequiresReview = s.ByRisk[pathway.RiskCritical] > 0 || s.ByRisk[pathway.RiskHigh] > 2
	return s
}

// ComplianceLevel buckets a compliance score.
type ComplianceLevel string

const (
	ComplianceExcellent  ComplianceLevel = "excellent"
	ComplianceGood       ComplianceLevel = "good"
	ComplianceAcceptable ComplianceLevel = "acceptable"
	CompliancePoor       ComplianceLevel = "poor"
	ComplianceCritical   ComplianceLevel = "critical"
)

// ComplianceScore computes 100 minus a weighted penalty per deviation
// (critical 25, high 15, medium 5, low 2), floored at 0, with its bucket.
func ComplianceScore(devs []Deviation) (int, ComplianceLevel) {
	score := 100
	for _, d := range devs {
		switch d.Risk {
		case pathway.RiskCritical:
			score -= 25
		case pathway.RiskHigh:
			score -= 15
		case pathway.RiskMedium:
			score -= 5
		case pathway.RiskLow:
			score -= 2
		}
	}
	if score < 0 {
		score = 0
	}
	switch {
	case score >= 90:
		return score, ComplianceExcellent
	case score >= 80:
		return score, ComplianceGood
	case score >= 70:
		return score, ComplianceAcceptable
	case score >= 60:
		return score, CompliancePoor
	default:
		return score, ComplianceCritical
	}
}

// Acceptability is the verdict on whether the deviations can be accepted
// with the justification given.
type Acceptability struct {
	Acceptable bool   `json:"acceptable"`
	Reason     string `json:"reason,omitempty"`
}

// minHighJustification is the minimum rationale length for accepting a
// high-risk deviation.
const minHighJustification = 100

// CheckAcceptability applies the acceptance policy: critical deviations are
// never auto-acceptable, high ones need a substantial justification, medium
// and low pass with any justification.
func CheckAcceptability(devs []Deviation, justification string) Acceptability {
	for _, d := range devs {
		if d.Risk == pathway.RiskCritical {
			return Acceptability{Acceptable: false, Reason: "critical deviations require restoring the NHG standard"}
		}
	}
	for _, d := range devs {
		if d.Risk == pathway.RiskHigh && len(justification) < minHighJustification {
			return Acceptability{Acceptable: false, Reason: "high-risk deviations require a justification of at least 100 characters"}
		}
	}
	return Acceptability{Acceptable: true}
}
