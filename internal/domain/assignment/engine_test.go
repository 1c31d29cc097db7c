package assignment

import (
	"errors"
	"testing"
	"time"

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

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestCreateSchedulesSteps(t *testing.T) {
	tpl := t2dm(t)
	a, err := Create("patient-1", tpl, "nurse.devries", start, "diabetes onboarding")
	if err != nil {
		t.Fatal(err)
	}

	if a.Status != StatusActive {
		t.Errorf("status = %s, want active", a.Status)
	}
	if a.TemplateVersion != tpl.Version {
		t.Error("assignment should pin the template version")
	}
	if len(a.Steps) != len(tpl.Steps) {
		t.Fatalf("steps = %d, want %d", len(a.Steps), len(tpl.Steps))
	}

	step, ok := a.Step("hba1c_monitoring")
	if !ok {
		t.Fatal("hba1c_monitoring missing from schedule")
	}
	want := start.AddDate(0, 0, 90)
	if !step.ScheduledDate.Equal(want) {
		t.Errorf("scheduled = %v, want %v", step.ScheduledDate, want)
	}
	if step.Status != StepPending || step.NextDueDate == nil {
		t.Error("enabled step should enter pending with a due date")
	}
}

func TestCreateRequiresJustification(t *testing.T) {
	if _, err := Create("patient-1", t2dm(t), "nurse.devries", start, ""); !errors.Is(err, ErrJustification) {
		t.Errorf("expected ErrJustification, got %v", err)
	}
}

func TestCreateExcludesDisabledSteps(t *testing.T) {
	tpl := *t2dm(t)
	steps := make([]pathway.Step, len(tpl.Steps))
	copy(steps, tpl.Steps)
	steps[2].Enabled = false
	tpl.Steps = steps

	a, err := Create("patient-1", &tpl, "nurse.devries", start, "custom pathway")
	if err != nil {
		t.Fatal(err)
	}
	step, _ := a.Step(steps[2].ID)
	if step.Status != StepExcluded {
		t.Errorf("disabled template step status = %s, want excluded", step.Status)
	}
	if step.ExcludedReason == "" || step.NextDueDate != nil {
		t.Error("excluded step should carry a reason and no due date")
	}
}

func TestAdjustStepAmbiguous(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")

	snooze := start.AddDate(0, 0, 10)
	_, _, err := AdjustStep(a, "hba1c_monitoring", StepAdjustment{
		CustomDelay: intPtr(120),
		SnoozeUntil: &snooze,
	}, "nurse.devries")
	if !errors.Is(err, ErrAmbiguousAdjustment) {
		t.Errorf("expected ErrAmbiguousAdjustment, got %v", err)
	}

	_, _, err = AdjustStep(a, "hba1c_monitoring", StepAdjustment{}, "nurse.devries")
	if !errors.Is(err, ErrAmbiguousAdjustment) {
		t.Errorf("expected ErrAmbiguousAdjustment for empty adjustment, got %v", err)
	}
}

func TestAdjustStepReschedule(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")

	out, entry, err := AdjustStep(a, "hba1c_monitoring", StepAdjustment{CustomDelay: intPtr(120)}, "nurse.devries")
	if err != nil {
		t.Fatal(err)
	}

	step, _ := out.Step("hba1c_monitoring")
	want := start.AddDate(0, 0, 120)
	if step.NextDueDate == nil || !step.NextDueDate.Equal(want) {
		t.Errorf("due date = %v, want %v (rescheduled from start date)", step.NextDueDate, want)
	}
	if entry.ActionType != "reschedule" {
		t.Errorf("audit action = %s, want reschedule", entry.ActionType)
	}
	if entry.Before == nil || entry.After == nil {
		t.Error("audit entry should carry before and after snapshots")
	}

	// The input assignment must not be mutated.
	orig, _ := a.Step("hba1c_monitoring")
	if orig.CustomDelay != nil {
		t.Error("AdjustStep mutated its input")
	}
}

func TestExcludeCriticalStepNeedsCountersign(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")

	_, _, err := AdjustStep(a, "foot_examination", StepAdjustment{
		ExcludedReason: "bilateral amputation",
	}, "nurse.devries")
	if !errors.Is(err, ErrCountersignRequired) {
		t.Fatalf("expected ErrCountersignRequired, got %v", err)
	}

	out, entry, err := AdjustStep(a, "foot_examination", StepAdjustment{
		ExcludedReason:  "bilateral amputation",
		CountersignedBy: "dr.jansen",
	}, "nurse.devries")
	if err != nil {
		t.Fatal(err)
	}
	step, _ := out.Step("foot_examination")
	if step.Status != StepExcluded || step.CountersignedBy != "dr.jansen" {
		t.Errorf("excluded step = %+v", step)
	}
	if entry.Risk != pathway.RiskHigh {
		t.Errorf("audit risk = %s, want high", entry.Risk)
	}
}

func TestCountersignWithoutReason(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")
	_, _, err := AdjustStep(a, "foot_examination", StepAdjustment{CountersignedBy: "dr.jansen"}, "nurse.devries")
	if !errors.Is(err, ErrExclusionReason) {
		t.Errorf("expected ErrExclusionReason, got %v", err)
	}
}

func TestSnoozeAndResume(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")

	until := start.AddDate(0, 0, 100)
	snoozed, _, err := AdjustStep(a, "hba1c_monitoring", StepAdjustment{SnoozeUntil: &until}, "nurse.devries")
	if err != nil {
		t.Fatal(err)
	}
	step, _ := snoozed.Step("hba1c_monitoring")
	if step.Status != StepSnoozed || !step.NextDueDate.Equal(until) {
		t.Errorf("snoozed step = %+v", step)
	}

	resumed, entry, err := ResumeSnooze(snoozed, "hba1c_monitoring", "nurse.devries")
	if err != nil {
		t.Fatal(err)
	}
	step, _ = resumed.Step("hba1c_monitoring")
	if step.Status != StepPending || step.SnoozeUntil != nil {
		t.Errorf("resumed step = %+v", step)
	}
	if !step.NextDueDate.Equal(step.ScheduledDate) {
		t.Error("resume should restore the original scheduled date")
	}
	if entry.ActionType != "resume" {
		t.Errorf("audit action = %s, want resume", entry.ActionType)
	}

	// Resuming a non-snoozed step fails.
	if _, _, err := ResumeSnooze(resumed, "hba1c_monitoring", "nurse.devries"); !errors.Is(err, ErrNotSnoozed) {
		t.Errorf("expected ErrNotSnoozed, got %v", err)
	}
}

func TestCompleteStep(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")

	out, entry, err := CompleteStep(a, "intake_consultation", "nurse.devries", "seen in clinic")
	if err != nil {
		t.Fatal(err)
	}
	step, _ := out.Step("intake_consultation")
	if step.Status != StepCompleted || step.CompletedBy != "nurse.devries" {
		t.Errorf("completed step = %+v", step)
	}
	if step.NextDueDate != nil {
		t.Error("completed step should have no due date")
	}
	if step.Notes != "seen in clinic" {
		t.Errorf("notes = %q", step.Notes)
	}
	if entry.ActionType != "complete" {
		t.Errorf("audit action = %s", entry.ActionType)
	}

	if _, _, err := CompleteStep(a, "unknown", "nurse.devries", ""); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
}

func TestNotesAdjustment(t *testing.T) {
	a, _ := Create("patient-1", t2dm(t), "nurse.devries", start, "onboarding")
	out, entry, err := AdjustStep(a, "hba1c_monitoring", StepAdjustment{Notes: strPtr("patient prefers morning labs")}, "nurse.devries")
	if err != nil {
		t.Fatal(err)
	}
	step, _ := out.Step("hba1c_monitoring")
	if step.Notes != "patient prefers morning labs" {
		t.Errorf("notes = %q", step.Notes)
	}
	if entry.ActionType != "notes" {
		t.Errorf("audit action = %s, want notes", entry.ActionType)
	}
}

func TestStepDisplayStatus(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := func(days int) *time.Time {
		d := now.AddDate(0, 0, days)
		return &d
	}

	cases := []struct {
		name string
		step PatientStep
		code string
	}{
		{"completed", PatientStep{Status: StepCompleted}, "completed"},
		{"excluded", PatientStep{Status: StepExcluded}, "excluded"},
		{"snoozed", PatientStep{Status: StepSnoozed}, "snoozed"},
		{"no due date", PatientStep{Status: StepPending}, "not_scheduled"},
		{"overdue", PatientStep{Status: StepPending, NextDueDate: due(-3)}, "overdue"},
		{"due today", PatientStep{Status: StepPending, NextDueDate: due(0)}, "due_today"},
		{"due soon", PatientStep{Status: StepPending, NextDueDate: due(5)}, "due_soon"},
		{"scheduled", PatientStep{Status: StepPending, NextDueDate: due(30)}, "scheduled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StepDisplayStatus(&tc.step, now)
			if got.Code != tc.code {
				t.Errorf("code = %s, want %s", got.Code, tc.code)
			}
		})
	}

	overdue := StepDisplayStatus(&PatientStep{Status: StepPending, NextDueDate: due(-3)}, now)
	if overdue.DaysDue != -3 || overdue.Severity != "critical" {
		t.Errorf("overdue = %+v", overdue)
	}
}
