package pathway

import "testing"

func TestSeededTemplatesValidate(t *testing.T) {
	templates := DefaultTemplates()
	if len(templates) != 3 {
		t.Fatalf("expected 3 seeded templates, got %d", len(templates))
	}
	for _, tpl := range templates {
		if err := tpl.Validate(); err != nil {
			t.Errorf("template %s failed validation: %v", tpl.ID, err)
		}
		if !tpl.IsNHGDefault {
			t.Errorf("template %s should be marked as NHG default", tpl.ID)
		}
		if tpl.Summary.StepCount != len(tpl.Steps) {
			t.Errorf("template %s summary step count %d != %d steps", tpl.ID, tpl.Summary.StepCount, len(tpl.Steps))
		}
	}
}

func TestRequiredStepsExistInTemplates(t *testing.T) {
	for _, tpl := range DefaultTemplates() {
		for _, id := range RequiredSteps(tpl.Condition) {
			step, ok := tpl.Step(id)
			if !ok {
				t.Errorf("template %s missing required step %s", tpl.ID, id)
				continue
			}
			if !step.Enabled {
				t.Errorf("template %s required step %s is disabled by default", tpl.ID, id)
			}
		}
	}
}

func TestTemplateByID(t *testing.T) {
	tpl, ok := TemplateByID("nhg-t2dm-default")
	if !ok {
		t.Fatal("expected t2dm template in catalog")
	}
	if tpl.Condition != ConditionT2DM {
		t.Errorf("expected condition %s, got %s", ConditionT2DM, tpl.Condition)
	}
	if _, ok := TemplateByID("unknown"); ok {
		t.Error("expected lookup miss for unknown id")
	}
}

func TestValidateRejectsBrokenTemplates(t *testing.T) {
	noEntry := &Template{
		ID:    "broken",
		Steps: []Step{{ID: "late", Delay: 30}},
	}
	if err := noEntry.Validate(); err == nil {
		t.Error("expected error for template without delay-zero step")
	}

	negative := &Template{
		ID:    "broken",
		Steps: []Step{{ID: "bad", Delay: -1}},
	}
	if err := negative.Validate(); err == nil {
		t.Error("expected error for negative delay")
	}

	empty := &Template{ID: "broken"}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for template without steps")
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	if RiskLow.Max(RiskHigh) != RiskHigh {
		t.Error("expected high to dominate low")
	}
	if RiskCritical.Max(RiskMedium) != RiskCritical {
		t.Error("expected critical to dominate medium")
	}
	if RiskLevel("bogus").Rank() != 0 {
		t.Error("expected unknown level to rank zero")
	}
}

func TestRoles(t *testing.T) {
	if _, ok := ParseRole("gp"); !ok {
		t.Error("expected gp to parse")
	}
	if _, ok := ParseRole("admin"); ok {
		t.Error("expected unknown role to be rejected")
	}
	if !RoleGP.HasPhysicianAuthority() {
		t.Error("expected gp to carry physician authority")
	}
	if RoleNurse.HasPhysicianAuthority() || RolePracticeManager.HasPhysicianAuthority() {
		t.Error("only gp carries physician authority")
	}
}

func TestCriticalSteps(t *testing.T) {
	if !IsCriticalStep("annual_review") {
		t.Error("annual_review should be critical")
	}
	if IsCriticalStep("intake_consultation") {
		t.Error("intake_consultation should not be critical")
	}
}
