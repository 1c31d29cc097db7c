// Package workflow governs the draft/review/published/archived lifecycle of
// pathway overrides.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// State is a workflow state.
type State string

const (
	StateDraft     State = "draft"
	StateReview    State = "review"
	StatePublished State = "published"
	StateArchived  State = "archived"
)

// transitions is the fixed adjacency table. Anything outside it is rejected.
var transitions = map[State][]State{
	StateDraft:     {StateReview, StateArchived},
	StateReview:    {StateDraft, StatePublished, StateArchived},
	StatePublished: {StateArchived},
	StateArchived:  {StateDraft},
}

// CanTransition reports whether from -> to is in the adjacency table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From        State     `json:"from"`
	To          State     `json:"to"`
	Actor       string    `json:"actor"`
	Role        pathway.Role `json:"role,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	ReviewNotes string    `json:"review_notes,omitempty"`
	Approver    string    `json:"approver,omitempty"`
	At          time.Time `json:"at"`
}

// Metadata is the per-override state machine record.
type Metadata struct {
	OverrideID         string       `json:"override_id"`
	Author             string       `json:"author"`
	CurrentState       State        `json:"current_state"`
	Version            int          `json:"version"`
	Transitions        []Transition `json:"transitions"`
	PublishedBy        string       `json:"published_by,omitempty"`
	PublishedAt        *time.Time   `json:"published_at,omitempty"`
	ScheduledPublishAt *time.Time   `json:"scheduled_publish_at,omitempty"`
	LastModified       time.Time    `json:"last_modified"`
}

// Repository persists workflow metadata keyed by override id.
type Repository interface {
	Get(ctx context.Context, overrideID string) (*Metadata, error)
	GetAll(ctx context.Context) (map[string]*Metadata, error)
	Save(ctx context.Context, meta *Metadata) error
}

// ErrNotFound indicates no workflow exists for the override.
var ErrNotFound = errors.New("workflow not found")

// ErrInvalidTransition rejects moves outside the adjacency table.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// ErrScheduleState rejects scheduling a publish outside review state.
var ErrScheduleState = errors.New("only a review-state workflow can schedule publication")

// ErrPublishApprovalPending rejects publishing an override still awaiting
// physician sign-off.
var ErrPublishApprovalPending = errors.New("override is pending approval")

// ErrPublishBlocked rejects publishing an override whose validation verdict
// denies publication.
var ErrPublishBlocked = errors.New("override is not publishable")

// InvalidTransitionError carries the attempted pair.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid workflow transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Capabilities derives what a user may do with an override in its current
// state. The author can never approve or publish their own change; the
// restriction applies symmetrically to both capabilities.
type Capabilities struct {
	CanEdit          bool `json:"can_edit"`
	CanRequestReview bool `json:"can_request_review"`
	CanApproveReview bool `json:"can_approve_review"`
	CanPublish       bool `json:"can_publish"`
	CanArchive       bool `json:"can_archive"`
	CanRestore       bool `json:"can_restore"`
}

// CapabilitiesFor computes role-and-state-based permissions.
func CapabilitiesFor(state State, role pathway.Role, isAuthor bool) Capabilities {
	caps := Capabilities{}
	switch state {
	case StateDraft:
		caps.CanEdit = true
		caps.CanRequestReview = true
		caps.CanArchive = role == pathway.RolePracticeManager || role == pathway.RoleGP
	case StateReview:
		caps.CanApproveReview = role.HasPhysicianAuthority() && !isAuthor
		caps.CanPublish = (role.HasPhysicianAuthority() || role == pathway.RolePracticeManager) && !isAuthor
		caps.CanArchive = role == pathway.RolePracticeManager
	case StatePublished:
		caps.CanArchive = role == pathway.RolePracticeManager || role.HasPhysicianAuthority()
	case StateArchived:
		caps.CanRestore = true
	}
	return caps
}
