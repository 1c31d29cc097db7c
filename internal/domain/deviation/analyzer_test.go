package deviation

import (
	"testing"

	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
)

func t2dm(t *testing.T) *pathway.Template {
	t.Helper()
	tpl, ok := pathway.TemplateByID("nhg-t2dm-default")
	if !ok {
		t.Fatal("t2dm template missing from catalog")
	}
	return tpl
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestAnalyzeNoOverride(t *testing.T) {
	if devs := Analyze(t2dm(t), nil); len(devs) != 0 {
		t.Errorf("nil override should yield no deviations, got %d", len(devs))
	}
}

func TestDisablingRequiredStepIsCritical(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	if err := o.SetStepPatch(tpl, "hba1c_monitoring", override.StepPatch{Enabled: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}

	devs := Analyze(tpl, o)
	if len(devs) != 1 {
		t.Fatalf("expected 1 deviation, got %d", len(devs))
	}
	d := devs[0]
	if d.Type != TypeStepRemoval {
		t.Errorf("type = %s, want %s", d.Type, TypeStepRemoval)
	}
	if d.Risk != pathway.RiskCritical {
		t.Errorf("risk = %s, want critical", d.Risk)
	}
	if d.Impact.PatientSafety != ImpactCritical {
		t.Errorf("patient safety impact = %s, want critical", d.Impact.PatientSafety)
	}
}

func TestTimingDeviationRanges(t *testing.T) {
	tpl := t2dm(t)

	cases := []struct {
		name  string
		delay int
		want  pathway.RiskLevel
	}{
		{"in range", 120, pathway.RiskMedium},
		{"out of range", 200, pathway.RiskHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := override.New("ov-1", tpl, "nurse.devries")
			if err := o.SetStepPatch(tpl, "hba1c_monitoring", override.StepPatch{Delay: intPtr(tc.delay)}); err != nil {
				t.Fatal(err)
			}
			devs := Analyze(tpl, o)
			if len(devs) != 1 {
				t.Fatalf("expected 1 deviation, got %d", len(devs))
			}
			if devs[0].Type != TypeTiming {
				t.Errorf("type = %s, want timing", devs[0].Type)
			}
			if devs[0].Risk != tc.want {
				t.Errorf("risk = %s, want %s", devs[0].Risk, tc.want)
			}
		})
	}
}

func TestAnnualReviewOutOfRangeIsCritical(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	// annual_review timing is flagged critical; below 350 days is out of range
	if err := o.SetStepPatch(tpl, "annual_review", override.StepPatch{Delay: intPtr(200)}); err != nil {
		t.Fatal(err)
	}
	devs := Analyze(tpl, o)
	if len(devs) != 1 {
		t.Fatalf("expected 1 deviation, got %d", len(devs))
	}
	if devs[0].Risk != pathway.RiskCritical {
		t.Errorf("risk = %s, want critical", devs[0].Risk)
	}
}

func TestThresholdDeviations(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	o.SetThreshold(tpl, "hba1c_target", 53) // equals standard, skipped
	o.SetThreshold(tpl, "review_months", 4) // in range, medium
	o.SetThreshold(tpl, "systolic_bp", 200) // out of range, critical standard

	devs := Analyze(tpl, o)
	if len(devs) != 2 {
		t.Fatalf("expected 2 deviations, got %d", len(devs))
	}
	// Sorted descending by risk.
	if devs[0].Field != "systolic_bp" || devs[0].Risk != pathway.RiskCritical {
		t.Errorf("first deviation = %s/%s, want systolic_bp/critical", devs[0].Field, devs[0].Risk)
	}
	if devs[1].Field != "review_months" || devs[1].Risk != pathway.RiskMedium {
		t.Errorf("second deviation = %s/%s, want review_months/medium", devs[1].Field, devs[1].Risk)
	}
}

func TestSummarize(t *testing.T) {
	devs := []Deviation{
		{Risk: pathway.RiskCritical, Type: TypeStepRemoval},
		{Risk: pathway.RiskMedium, Type: TypeTiming},
	}
	s := Summarize(devs)
	if s.Total != 2 {
		t.Errorf("total = %d, want 2", s.Total)
	}
	if !s.RequiresReview {
		t.Error("critical deviation should require review")
	}
	if s.OverallRisk != pathway.RiskCritical {
		t.Errorf("overall risk = %s, want critical", s.OverallRisk)
	}

	mild := Summarize([]Deviation{{Risk: pathway.RiskMedium, Type: TypeTiming}})
	if mild.RequiresReview {
		t.Error("single medium deviation should not require review")
	}
}

func TestComplianceScore(t *testing.T) {
	cases := []struct {
		name      string
		devs      []Deviation
		wantScore int
		wantLevel ComplianceLevel
	}{
		{"clean", nil, 100, ComplianceExcellent},
		{"one medium", []Deviation{{Risk: pathway.RiskMedium}}, 95, ComplianceExcellent},
		{"one critical", []Deviation{{Risk: pathway.RiskCritical}}, 75, ComplianceAcceptable},
		{"two critical one high", []Deviation{
			{Risk: pathway.RiskCritical}, {Risk: pathway.RiskCritical}, {Risk: pathway.RiskHigh},
		}, 35, ComplianceCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, level := ComplianceScore(tc.devs)
			if score != tc.wantScore || level != tc.wantLevel {
				t.Errorf("got %d/%s, want %d/%s", score, level, tc.wantScore, tc.wantLevel)
			}
		})
	}
}

func TestComplianceScoreFloor(t *testing.T) {
	var devs []Deviation
	for i := 0; i < 6; i++ {
		devs = append(devs, Deviation{Risk: pathway.RiskCritical})
	}
	score, level := ComplianceScore(devs)
	if score != 0 {
		t.Errorf("score = %d, want floor 0", score)
	}
	if level != ComplianceCritical {
		t.Errorf("level = %s, want critical", level)
	}
}

func TestCheckAcceptability(t *testing.T) {
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'x'
	}

	critical := []Deviation{{Risk: pathway.RiskCritical}}
	if acc := CheckAcceptability(critical, string(long)); acc.Acceptable {
		t.Error("critical deviations must never be acceptable")
	}

	high := []Deviation{{Risk: pathway.RiskHigh}}
	if acc := CheckAcceptability(high, "short"); acc.Acceptable {
		t.Error("high-risk deviation with short justification should be rejected")
	}
	if acc := CheckAcceptability(high, string(long)); !acc.Acceptable {
		t.Errorf("high-risk deviation with long justification should pass: %s", acc.Reason)
	}

	medium := []Deviation{{Risk: pathway.RiskMedium}}
	if acc := CheckAcceptability(medium, "short but present"); !acc.Acceptable {
		t.Error("medium deviation should pass with any justification")
	}
}
