// Package assignment instantiates published pathways into per-patient step
// schedules and applies gated adjustment operations.
package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// Status is the lifecycle state of a patient pathway assignment.
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusDiscontinued Status = "discontinued"
)

// StepStatus is the persisted state of a patient step. Overdue is derived
// at display time from the next due date, never stored.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepSnoozed   StepStatus = "snoozed"
	StepExcluded  StepStatus = "excluded"
)

// PatientStep is one scheduled care step for a specific patient. It embeds
// a snapshot of the template step it was instantiated from, paired with the
// template version, so the record stays interpretable after templates evolve.
type PatientStep struct {
	StepID        string       `json:"step_id"`
	OriginalStep  pathway.Step `json:"original_step"`
	ScheduledDate time.Time    `json:"scheduled_date"`
	NextDueDate   *time.Time   `json:"next_due_date,omitempty"`
	Status        StepStatus   `json:"status"`
	CustomDelay   *int         `json:"custom_delay,omitempty"`
	SnoozeUntil   *time.Time   `json:"snooze_until,omitempty"`

	ExcludedReason  string     `json:"excluded_reason,omitempty"`
	ExcludedBy      string     `json:"excluded_by,omitempty"`
	ExcludedDate    *time.Time `json:"excluded_date,omitempty"`
	CountersignedBy string     `json:"countersigned_by,omitempty"`

	CompletedDate *time.Time `json:"completed_date,omitempty"`
	CompletedBy   string     `json:"completed_by,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Assignment is a per-patient instantiation of a pathway template. The
// template snapshot is denormalized for point-in-time audit fidelity.
type Assignment struct {
	ID                   string           `json:"id"`
	PatientID            string           `json:"patient_id"`
	TemplateID           string           `json:"template_id"`
	TemplateVersion      string           `json:"template_version"`
	Template             pathway.Template `json:"template"`
	AssignedBy           string           `json:"assigned_by"`
	AssignedDate         time.Time        `json:"assigned_date"`
	Status               Status           `json:"status"`
	StartDate            time.Time        `json:"start_date"`
	Steps                []PatientStep    `json:"steps"`
	OverallJustification string           `json:"overall_justification"`
	LastModified         time.Time        `json:"last_modified"`
	ModifiedBy           string           `json:"modified_by"`
}

// Step returns a pointer to the patient step with the given id.
func (a *Assignment) Step(stepID string) (*PatientStep, bool) {
	for i := range a.Steps {
		if a.Steps[i].StepID == stepID {
			return &a.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so adjustment operations never mutate the
// caller's value.
func (a *Assignment) Clone() *Assignment {
	out := *a
	out.Steps = make([]PatientStep, len(a.Steps))
	copy(out.Steps, a.Steps)
	for i := range out.Steps {
		out.Steps[i].NextDueDate = copyTime(a.Steps[i].NextDueDate)
		out.Steps[i].SnoozeUntil = copyTime(a.Steps[i].SnoozeUntil)
		out.Steps[i].ExcludedDate = copyTime(a.Steps[i].ExcludedDate)
		out.Steps[i].CompletedDate = copyTime(a.Steps[i].CompletedDate)
		out.Steps[i].CustomDelay = copyInt(a.Steps[i].CustomDelay)
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// AuditEntry records one adjustment to a patient pathway, with before and
// after snapshots of the touched step.
type AuditEntry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	PatientID  string            `json:"patient_id"`
	Assignment string            `json:"assignment_id"`
	StepID     string            `json:"step_id,omitempty"`
	ActionType string            `json:"action_type"`
	Reason     string            `json:"reason,omitempty"`
	Risk       pathway.RiskLevel `json:"risk"`
	Before     *PatientStep      `json:"before,omitempty"`
	After      *PatientStep      `json:"after,omitempty"`
}

// Repository persists assignments.
type Repository interface {
	Get(ctx context.Context, id string) (*Assignment, error)
	GetByPatient(ctx context.Context, patientID string) ([]*Assignment, error)
	GetAll(ctx context.Context) ([]*Assignment, error)
	Save(ctx context.Context, a *Assignment) error
}

// AuditRepository persists patient pathway audit entries.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	GetByAssignment(ctx context.Context, assignmentID string) ([]*AuditEntry, error)
}

// ErrNotFound indicates a missing assignment.
var ErrNotFound = errors.New("assignment not found")
