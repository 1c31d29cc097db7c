package validation

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

func TestDefaultTemplatesPassValidation(t *testing.T) {
	for _, tpl := range pathway.DefaultTemplates() {
		res := Validate(tpl, nil)
		if !res.IsValid {
			t.Errorf("template %s invalid without override: %+v", tpl.ID, res.Errors)
		}
		if !res.CanPublish {
			t.Errorf("template %s should be publishable untouched", tpl.ID)
		}
	}
}

func TestDisabledRequiredStepBlocksPublish(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	if err := o.SetStepPatch(tpl, "foot_examination", override.StepPatch{Enabled: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}

	res := Validate(tpl, o)
	if res.IsValid {
		t.Fatal("disabling a required step should invalidate the pathway")
	}
	if len(res.MissingRequiredSteps) != 1 || res.MissingRequiredSteps[0] != "foot_examination" {
		t.Errorf("missing required steps = %v", res.MissingRequiredSteps)
	}
	if res.CanRequestReview || res.CanPublish {
		t.Error("errors must block review and publish")
	}
	if !res.CanSaveDraft {
		t.Error("draft saving is always allowed")
	}
}

func TestAnnualCadenceFloor(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	if err := o.SetStepPatch(tpl, "annual_review", override.StepPatch{Delay: intPtr(180)}); err != nil {
		t.Fatal(err)
	}

	res := Validate(tpl, o)
	found := false
	for _, issue := range res.Errors {
		if issue.Code == "annual_cadence" && issue.StepID == "annual_review" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected annual_cadence error, got %+v", res.Errors)
	}
}

func TestDelayDoubledWarning(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	// foot_examination is required with a 180 day delay; 400 > 2*180.
	if err := o.SetStepPatch(tpl, "foot_examination", override.StepPatch{Delay: intPtr(400)}); err != nil {
		t.Fatal(err)
	}

	res := Validate(tpl, o)
	if !res.IsValid {
		t.Fatalf("a doubled delay should warn, not error: %+v", res.Errors)
	}
	found := false
	for _, issue := range res.Warnings {
		if issue.Code == "delay_doubled" && issue.StepID == "foot_examination" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected delay_doubled warning, got %+v", res.Warnings)
	}
}

func TestThresholdSafetyBounds(t *testing.T) {
	tpl := t2dm(t)

	o := override.New("ov-1", tpl, "nurse.devries")
	o.SetThreshold(tpl, "hba1c_target", 38)
	res := Validate(tpl, o)
	if res.IsValid {
		t.Error("HbA1c below the safe floor must be an error")
	}

	o = override.New("ov-2", tpl, "nurse.devries")
	o.SetThreshold(tpl, "hba1c_target", 80)
	res = Validate(tpl, o)
	if !res.IsValid {
		t.Errorf("HbA1c above the NHG maximum should only warn: %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected hba1c_above_max warning")
	}

	o = override.New("ov-3", tpl, "nurse.devries")
	o.SetThreshold(tpl, "systolic_bp", 100)
	res = Validate(tpl, o)
	if res.IsValid {
		t.Error("systolic below the safe floor must be an error")
	}
}

func TestMissingChannelsBlockPublish(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	// hba1c_monitoring is a lab step: SMS and dashboard are mandatory.
	if err := o.SetStepPatch(tpl, "hba1c_monitoring", override.StepPatch{
		Channels: &[]pathway.Channel{pathway.ChannelEmail},
	}); err != nil {
		t.Fatal(err)
	}

	res := Validate(tpl, o)
	if res.IsValid {
		t.Fatal("stripping mandatory channels should invalidate the step")
	}
	missing, ok := res.MissingNotificationChannels["hba1c_monitoring"]
	if !ok {
		t.Fatalf("expected hba1c_monitoring in missing channels, got %v", res.MissingNotificationChannels)
	}
	if len(missing) != 2 {
		t.Errorf("missing channels = %v, want sms and dashboard", missing)
	}
	if res.CanPublish {
		t.Error("missing channels must block publish")
	}
}

func TestNoEntryStepError(t *testing.T) {
	tpl := t2dm(t)
	o := override.New("ov-1", tpl, "nurse.devries")
	if err := o.SetStepPatch(tpl, "intake_consultation", override.StepPatch{Enabled: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}

	res := Validate(tpl, o)
	found := false
	for _, issue := range res.Errors {
		if issue.Code == "no_entry_step" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected no_entry_step error, got %+v", res.Errors)
	}
}

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		step pathway.Step
		want StepCategory
	}{
		{pathway.Step{ID: "exacerbation_check"}, CategoryUrgent},
		{pathway.Step{ID: "hba1c_monitoring"}, CategoryLabResult},
		{pathway.Step{ID: "medication_review"}, CategoryMedication},
		{pathway.Step{ID: "annual_review_x"}, CategoryAppointment},
		{pathway.Step{ID: "foot_examination"}, CategoryRoutine},
	}
	for _, tc := range cases {
		if got := CategoryOf(tc.step); got != tc.want {
			t.Errorf("CategoryOf(%s) = %s, want %s", tc.step.ID, got, tc.want)
		}
	}
}
