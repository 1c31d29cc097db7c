package override

import (
	"testing"

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

func TestNewOverrideStartsEmpty(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "dr.jansen")

	if !o.IsEmpty() {
		t.Error("fresh override should be empty")
	}
	if o.RiskLevel != pathway.RiskLow {
		t.Errorf("fresh override risk = %s, want low", o.RiskLevel)
	}
	if o.OriginalTemplateID != tpl.ID || o.TemplateVersion != tpl.Version {
		t.Error("override should pin the template id and version")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "dr.jansen")
	if err := o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Delay: intPtr(120)}); err != nil {
		t.Fatal(err)
	}
	o.SetThreshold(tpl, "hba1c_target", 58)

	c := o.Clone()
	if err := c.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Delay: intPtr(150)}); err != nil {
		t.Fatal(err)
	}
	c.SetThreshold(tpl, "hba1c_target", 60)
	c.ApprovedBy = append(c.ApprovedBy, "dr.bakker")

	if d := o.Steps["hba1c_monitoring"].Delay; d == nil || *d != 120 {
		t.Errorf("original delay changed through the clone: %v", d)
	}
	if o.Thresholds["hba1c_target"] != 58 {
		t.Errorf("original threshold changed through the clone: %v", o.Thresholds["hba1c_target"])
	}
	if len(o.ApprovedBy) != 0 {
		t.Errorf("original approvals changed through the clone: %v", o.ApprovedBy)
	}
}

func TestSetStepPatchUnknownStep(t *testing.T) {
	o := New("ov-1", t2dm(t), "dr.jansen")
	err := o.SetStepPatch(t2dm(t), "nonexistent", StepPatch{Delay: intPtr(10)})
	if err == nil {
		t.Fatal("expected error for unknown step id")
	}
}

func TestEmptyPatchClearsEntry(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "dr.jansen")

	if err := o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Delay: intPtr(120)}); err != nil {
		t.Fatal(err)
	}
	if len(o.Steps) != 1 {
		t.Fatalf("expected 1 patched step, got %d", len(o.Steps))
	}

	if err := o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{}); err != nil {
		t.Fatal(err)
	}
	if len(o.Steps) != 0 {
		t.Error("all-empty patch should clear the entry")
	}
	if o.RiskLevel != pathway.RiskLow {
		t.Errorf("risk after clearing = %s, want low", o.RiskLevel)
	}
}

func TestRiskClassification(t *testing.T) {
	tpl := t2dm(t)

	cases := []struct {
		name  string
		apply func(o *LocalOverride)
		want  pathway.RiskLevel
	}{
		{
			name: "name only is low",
			apply: func(o *LocalOverride) {
				o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Name: &pathway.Text{NL: "x", EN: "x"}})
			},
			want: pathway.RiskLow,
		},
		{
			name: "delay is medium",
			apply: func(o *LocalOverride) {
				o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Delay: intPtr(120)})
			},
			want: pathway.RiskMedium,
		},
		{
			name: "disabling a critical step is high",
			apply: func(o *LocalOverride) {
				o.SetStepPatch(tpl, "foot_examination", StepPatch{Enabled: boolPtr(false)})
			},
			want: pathway.RiskHigh,
		},
		{
			name: "hba1c threshold is high",
			apply: func(o *LocalOverride) {
				o.SetThreshold(tpl, "hba1c_target", 58)
			},
			want: pathway.RiskHigh,
		},
		{
			name: "unchanged threshold stays low",
			apply: func(o *LocalOverride) {
				o.SetThreshold(tpl, "hba1c_target", tpl.Thresholds["hba1c_target"])
			},
			want: pathway.RiskLow,
		},
		{
			name: "other threshold is medium",
			apply: func(o *LocalOverride) {
				o.SetThreshold(tpl, "review_months", 4)
			},
			want: pathway.RiskMedium,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := New("ov-1", tpl, "dr.jansen")
			tc.apply(o)
			if o.RiskLevel != tc.want {
				t.Errorf("risk = %s, want %s", o.RiskLevel, tc.want)
			}
		})
	}
}

func TestEditInvalidatesApprovals(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "nurse.devries")
	if err := o.SetStepPatch(tpl, "foot_examination", StepPatch{Enabled: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	if !o.PendingApproval {
		t.Fatal("high-risk override should be pending approval")
	}

	if err := Approve(o, "dr.jansen", pathway.RoleGP); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if o.PendingApproval || len(o.ApprovedBy) != 1 {
		t.Fatal("approval should record the approver and clear pending")
	}

	// Any further edit covers new content, so sign-offs reset.
	if err := o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{Delay: intPtr(120)}); err != nil {
		t.Fatal(err)
	}
	if len(o.ApprovedBy) != 0 {
		t.Error("edit should clear earlier approvals")
	}
	if !o.PendingApproval {
		t.Error("still-high-risk override should re-enter pending approval")
	}
}

func TestApprovePolicy(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "nurse.devries")

	if err := Approve(o, "dr.jansen", pathway.RoleGP); err != ErrApprovalNotPending {
		t.Errorf("expected ErrApprovalNotPending, got %v", err)
	}

	o.SetStepPatch(tpl, "foot_examination", StepPatch{Enabled: boolPtr(false)})
	if err := Approve(o, "nurse.bakker", pathway.RoleNurse); err != ErrApproverAuthority {
		t.Errorf("expected ErrApproverAuthority for nurse, got %v", err)
	}
	if err := Approve(o, "manager.smit", pathway.RolePracticeManager); err != ErrApproverAuthority {
		t.Errorf("expected ErrApproverAuthority for manager, got %v", err)
	}
	if err := Approve(o, "dr.jansen", pathway.RoleGP); err != nil {
		t.Errorf("gp approval failed: %v", err)
	}
}

func TestEffectiveSteps(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "dr.jansen")
	o.SetStepPatch(tpl, "hba1c_monitoring", StepPatch{
		Delay:    intPtr(120),
		Channels: &[]pathway.Channel{pathway.ChannelSMS, pathway.ChannelDashboard},
	})

	steps := EffectiveSteps(tpl, o)
	if len(steps) != len(tpl.Steps) {
		t.Fatalf("effective steps count %d != template %d", len(steps), len(tpl.Steps))
	}
	for _, s := range steps {
		if s.ID != "hba1c_monitoring" {
			continue
		}
		if s.Delay != 120 {
			t.Errorf("patched delay = %d, want 120", s.Delay)
		}
		if len(s.Channels) != 2 {
			t.Errorf("patched channels = %v", s.Channels)
		}
		// Untouched fields keep the template value.
		if s.Name.EN != "HbA1c monitoring" {
			t.Errorf("unpatched name changed: %q", s.Name.EN)
		}
	}

	// Template itself must stay untouched.
	orig, _ := tpl.Step("hba1c_monitoring")
	if orig.Delay != 90 {
		t.Errorf("template mutated: delay = %d", orig.Delay)
	}

	// Nil override yields the template as-is.
	plain := EffectiveSteps(tpl, nil)
	if plain[1].Delay != 90 {
		t.Errorf("nil override should not alter steps")
	}
}

func TestEffectiveThresholds(t *testing.T) {
	tpl := t2dm(t)
	o := New("ov-1", tpl, "dr.jansen")
	o.SetThreshold(tpl, "hba1c_target", 58)

	merged := EffectiveThresholds(tpl, o)
	if merged["hba1c_target"] != 58 {
		t.Errorf("override threshold = %v, want 58", merged["hba1c_target"])
	}
	if merged["systolic_bp"] != 140 {
		t.Errorf("template threshold = %v, want 140", merged["systolic_bp"])
	}
	if tpl.Thresholds["hba1c_target"] != 53 {
		t.Error("template thresholds mutated")
	}
}
