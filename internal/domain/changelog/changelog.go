// Package changelog keeps the append-only, time-boxed reversible history of
// applied configuration changes.
package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// ChangeType classifies a history entry.
type ChangeType string

const (
	TypePathwayOverride     ChangeType = "pathway_override"
	TypeConfigurationChange ChangeType = "configuration_change"
	TypeThresholdUpdate     ChangeType = "threshold_update"
)

// EntryStatus tracks whether a change is still in effect.
type EntryStatus string

const (
	StatusApplied EntryStatus = "applied"
	StatusUndone  EntryStatus = "undone"
	StatusFailed  EntryStatus = "failed"
)

// ImpactData snapshots the projected effect of a change at the time it was
// made.
type ImpactData struct {
	AffectedByRisk    map[pathway.RiskLevel]int `json:"affected_by_risk,omitempty"`
	AffectedByPathway map[string]int            `json:"affected_by_pathway,omitempty"`
	TotalAffected     int                       `json:"total_affected"`
	WorkloadHours     float64                   `json:"workload_hours"`
	DueDateShifts     int                       `json:"due_date_shifts"`
	RiskAssessment    pathway.RiskLevel         `json:"risk_assessment"`
}

// Entry is one applied change. Before/after snapshots are opaque to the
// history; undo replays UndoData through the caller-supplied executor.
type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id"`
	UserName      string          `json:"user_name"`
	ChangeType    ChangeType      `json:"change_type"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Justification string          `json:"justification"`
	Impact        ImpactData      `json:"impact"`
	BeforeState   json.RawMessage `json:"before_state,omitempty"`
	AfterState    json.RawMessage `json:"after_state,omitempty"`
	CanUndo       bool            `json:"can_undo"`
	UndoData      json.RawMessage `json:"undo_data,omitempty"`
	Status        EntryStatus     `json:"status"`
	UndoneAt      *time.Time      `json:"undone_at,omitempty"`
	UndoneBy      string          `json:"undone_by,omitempty"`
	UndoReason    string          `json:"undo_reason,omitempty"`
}

// Repository persists the history as one ordered collection, newest first.
// SaveAll replaces the whole collection; there are no partial writes.
type Repository interface {
	GetAll(ctx context.Context) ([]Entry, error)
	SaveAll(ctx context.Context, entries []Entry) error
}

// Policy violations for undo. Thrown, caught by the caller, never retried.
var (
	ErrEntryNotFound    = errors.New("change entry not found")
	ErrNotUndoable      = errors.New("change cannot be undone")
	ErrNotApplied       = errors.New("change is not in applied state")
	ErrUndoWindowClosed = errors.New("undo window of 24 hours has expired")
)

// maxEntries caps the history; the oldest entries are evicted.
const maxEntries = 1000

// UndoWindow is how long after creation a change stays reversible.
const UndoWindow = 24 * time.Hour

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	UserID     string
	ChangeType ChangeType
	Status     EntryStatus
	From       *time.Time
	To         *time.Time
	Search     string
}

// Statistics aggregates the history for the audit view.
type Statistics struct {
	Total         int                 `json:"total"`
	ByType        map[ChangeType]int  `json:"by_type"`
	ByUser        map[string]int      `json:"by_user"`
	ByStatus      map[EntryStatus]int `json:"by_status"`
	TotalAffected int                 `json:"total_affected"`
	AverageRisk   pathway.RiskLevel   `json:"average_risk"`
}
