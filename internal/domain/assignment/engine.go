package assignment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// Policy violations raised by adjustment operations. Returned as errors,
// surfaced to the user, never retried automatically.
var (
	ErrStepNotFound        = errors.New("step not found in assignment")
	ErrCountersignRequired = errors.New("excluding a critical step requires a countersignature")
	ErrExclusionReason     = errors.New("exclusion requires a clinical reason")
	ErrNotSnoozed          = errors.New("step is not snoozed")
	ErrJustification       = errors.New("assignment justification is required")
	ErrAmbiguousAdjustment = errors.New("adjustment must apply exactly one operation")
)

// Create instantiates a template into a patient schedule. Each step is
// scheduled at startDate plus its delay; disabled template steps enter as
// excluded with the disable reason recorded.
func Create(patientID string, t *pathway.Template, assignedBy string, startDate time.Time, justification string) (*Assignment, error) {
	if justification == "" {
		return nil, ErrJustification
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("template invalid: %w", err)
	}

	now := time.Now().UTC()
	a := &Assignment{
		ID:                   uuid.New().String(),
		PatientID:            patientID,
		TemplateID:           t.ID,
		TemplateVersion:      t.Version,
		Template:             *t,
		AssignedBy:           assignedBy,
		AssignedDate:         now,
		Status:               StatusActive,
		StartDate:            startDate,
		OverallJustification: justification,
		LastModified:         now,
		ModifiedBy:           assignedBy,
	}

	for _, step := range t.Steps {
		scheduled := startDate.AddDate(0, 0, step.Delay)
		ps := PatientStep{
			StepID:        step.ID,
			OriginalStep:  step,
			ScheduledDate: scheduled,
		}
		if step.Enabled {
			ps.Status = StepPending
			due := scheduled
			ps.NextDueDate = &due
		} else {
			ps.Status = StepExcluded
			ps.ExcludedReason = "Disabled in template"
			ps.ExcludedBy = assignedBy
			excludedAt := now
			ps.ExcludedDate = &excludedAt
		}
		a.Steps = append(a.Steps, ps)
	}
	return a, nil
}

// StepAdjustment carries exactly one adjustment operation.
type StepAdjustment struct {
	CustomDelay     *int       `json:"custom_delay,omitempty"`
	SnoozeUntil     *time.Time `json:"snooze_until,omitempty"`
	ExcludedReason  string     `json:"excluded_reason,omitempty"`
	CountersignedBy string     `json:"countersigned_by,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

func (adj StepAdjustment) operations() int {
	n := 0
	if adj.CustomDelay != nil {
		n++
	}
	if adj.SnoozeUntil != nil {
		n++
	}
	if adj.ExcludedReason != "" {
		n++
	}
	if adj.Notes != nil {
		n++
	}
	return n
}

// AdjustStep applies one adjustment to a step and returns a new assignment
// snapshot plus the audit entry the caller must persist alongside it. The
// input assignment is not mutated.
func AdjustStep(a *Assignment, stepID string, adj StepAdjustment, adjustedBy string) (*Assignment, *AuditEntry, error) {
	if adj.CountersignedBy != "" && adj.ExcludedReason == "" {
		return nil, nil, ErrExclusionReason
	}
	if adj.operations() != 1 {
		return nil, nil, ErrAmbiguousAdjustment
	}

	out := a.Clone()
	step, ok := out.Step(stepID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	before := *step

	risk := pathway.RiskLow
	var action, reason string

	switch {
	case adj.CustomDelay != nil:
		// Reschedule from the assignment's start date, not from now.
		step.CustomDelay = adj.CustomDelay
		due := out.StartDate.AddDate(0, 0, *adj.CustomDelay)
		step.NextDueDate = &due
		action = "reschedule"
		reason = fmt.Sprintf("custom delay %d days", *adj.CustomDelay)

	case adj.SnoozeUntil != nil:
		step.Status = StepSnoozed
		step.SnoozeUntil = adj.SnoozeUntil
		due := *adj.SnoozeUntil
		step.NextDueDate = &due
		action = "snooze"
		reason = "snoozed until " + adj.SnoozeUntil.Format("2006-01-02")

	case adj.ExcludedReason != "":
		if pathway.IsCriticalStep(stepID) {
			if adj.CountersignedBy == "" {
				return nil, nil, ErrCountersignRequired
			}
			risk = pathway.RiskHigh
			step.CountersignedBy = adj.CountersignedBy
		}
		step.Status = StepExcluded
		step.ExcludedReason = adj.ExcludedReason
		step.ExcludedBy = adjustedBy
		now := time.Now().UTC()
		step.ExcludedDate = &now
		step.NextDueDate = nil
		action = "exclude"
		reason = adj.ExcludedReason

	case adj.Notes != nil:
		step.Notes = *adj.Notes
		action = "notes"
	}

	out.LastModified = time.Now().UTC()
	out.ModifiedBy = adjustedBy

	after := *step
	entry := &AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Actor:      adjustedBy,
		PatientID:  out.PatientID,
		Assignment: out.ID,
		StepID:     stepID,
		ActionType: action,
		Reason:     reason,
		Risk:       risk,
		Before:     &before,
		After:      &after,
	}
	return out, entry, nil
}

// CompleteStep marks a step done and stamps who completed it.
func CompleteStep(a *Assignment, stepID, completedBy, notes string) (*Assignment, *AuditEntry, error) {
	out := a.Clone()
	step, ok := out.Step(stepID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	before := *step

	now := time.Now().UTC()
	step.Status = StepCompleted
	step.CompletedDate = &now
	step.CompletedBy = completedBy
	step.NextDueDate = nil
	if notes != "" {
		step.Notes = notes
	}
	out.LastModified = now
	out.ModifiedBy = completedBy

	after := *step
	return out, &AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Actor:      completedBy,
		PatientID:  out.PatientID,
		Assignment: out.ID,
		StepID:     stepID,
		ActionType: "complete",
		Risk:       pathway.RiskLow,
		Before:     &before,
		After:      &after,
	}, nil
}

// ResumeSnooze restores a snoozed step to pending and its original
// scheduled date.
func ResumeSnooze(a *Assignment, stepID, resumedBy string) (*Assignment, *AuditEntry, error) {
	out := a.Clone()
	step, ok := out.Step(stepID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if step.Status != StepSnoozed {
		return nil, nil, ErrNotSnoozed
	}
	before := *step

	step.Status = StepPending
	step.SnoozeUntil = nil
	due := step.ScheduledDate
	step.NextDueDate = &due
	now := time.Now().UTC()
	out.LastModified = now
	out.ModifiedBy = resumedBy

	after := *step
	return out, &AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Actor:      resumedBy,
		PatientID:  out.PatientID,
		Assignment: out.ID,
		StepID:     stepID,
		ActionType: "resume",
		Risk:       pathway.RiskLow,
		Before:     &before,
		After:      &after,
	}, nil
}

// DisplayStatus is the derived step status shown on the dashboard.
type DisplayStatus struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	DaysDue  int    `json:"days_due"`
}

// StepDisplayStatus derives the dashboard status at day granularity.
func StepDisplayStatus(s *PatientStep, now time.Time) DisplayStatus {
	switch s.Status {
	case StepCompleted:
		return DisplayStatus{Code: "completed", Severity: "success"}
	case StepExcluded:
		return DisplayStatus{Code: "excluded", Severity: "muted"}
	case StepSnoozed:
		return DisplayStatus{Code: "snoozed", Severity: "default"}
	}
	if s.NextDueDate == nil {
		return DisplayStatus{Code: "not_scheduled", Severity: "muted"}
	}
	days := daysBetween(now, *s.NextDueDate)
	switch {
	case days < 0:
		return DisplayStatus{Code: "overdue", Severity: "critical", DaysDue: days}
	case days == 0:
		return DisplayStatus{Code: "due_today", Severity: "warning", DaysDue: 0}
	case days <= 7:
		return DisplayStatus{Code: "due_soon", Severity: "warning", DaysDue: days}
	default:
		return DisplayStatus{Code: "scheduled", Severity: "default", DaysDue: days}
	}
}

// daysBetween counts whole days from a to b, comparing at day granularity.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bt.Sub(at).Hours() / 24)
}
