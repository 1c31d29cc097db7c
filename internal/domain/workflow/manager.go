package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// SchedulerIdentity is the actor recorded for sweep-driven publications.
const SchedulerIdentity = "system:scheduler"

// PublishGate vets an override before its workflow may move to published.
// It returns ErrPublishApprovalPending or ErrPublishBlocked to refuse.
type PublishGate func(ctx context.Context, overrideID string) error

// Manager drives workflow transitions over an injected repository.
type Manager struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
	gate   PublishGate
}

// NewManager creates a workflow manager.
func NewManager(repo Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithPublishGate installs the gate consulted on every move to published,
// scheduled sweeps included.
func (m *Manager) WithPublishGate(gate PublishGate) *Manager {
	m.gate = gate
	return m
}

// Get returns the workflow for an override without creating one.
func (m *Manager) Get(ctx context.Context, overrideID string) (*Metadata, error) {
	return m.repo.Get(ctx, overrideID)
}

// Ensure returns the workflow for an override, creating a draft record on
// first touch.
func (m *Manager) Ensure(ctx context.Context, overrideID, author string) (*Metadata, error) {
	meta, err := m.repo.Get(ctx, overrideID)
	if err == nil {
		return meta, nil
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	meta = &Metadata{
		OverrideID:   overrideID,
		Author:       author,
		CurrentState: StateDraft,
		LastModified: m.now(),
	}
	if err := m.repo.Save(ctx, meta); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	return meta, nil
}

// TransitionInput carries the actor context for a state change.
type TransitionInput struct {
	Actor       string
	Role        pathway.Role
	Comment     string
	ReviewNotes string
	Approver    string
}

// Transition moves a workflow to a new state, appending to the transition
// log and bumping the version. Moves outside the adjacency table fail.
func (m *Manager) Transition(ctx context.Context, overrideID string, to State, in TransitionInput) (*Metadata, error) {
	meta, err := m.repo.Get(ctx, overrideID)
	if err != nil {
		return nil, err
	}

	from := meta.CurrentState
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}
	if to == StatePublished && m.gate != nil {
		if err := m.gate(ctx, overrideID); err != nil {
			return nil, err
		}
	}

	now := m.now()
	meta.Transitions = append(meta.Transitions, Transition{
		From:        from,
		To:          to,
		Actor:       in.Actor,
		Role:        in.Role,
		Comment:     in.Comment,
		ReviewNotes: in.ReviewNotes,
		Approver:    in.Approver,
		At:          now,
	})
	meta.CurrentState = to
	meta.Version++
	meta.LastModified = now

	if to == StatePublished {
		meta.PublishedBy = in.Actor
		publishedAt := now
		meta.PublishedAt = &publishedAt
		meta.ScheduledPublishAt = nil
	}

	if err := m.repo.Save(ctx, meta); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}

	m.logger.Info("workflow transitioned",
		zap.String("override_id", overrideID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", in.Actor))
	return meta, nil
}

// SchedulePublish stamps a future publication time on a review-state
// workflow. The sweep picks it up once the time has passed.
func (m *Manager) SchedulePublish(ctx context.Context, overrideID string, at time.Time, actor string) (*Metadata, error) {
	meta, err := m.repo.Get(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if meta.CurrentState != StateReview {
		return nil, ErrScheduleState
	}
	meta.ScheduledPublishAt = &at
	meta.LastModified = m.now()
	if err := m.repo.Save(ctx, meta); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	m.logger.Info("publication scheduled",
		zap.String("override_id", overrideID),
		zap.Time("at", at),
		zap.String("actor", actor))
	return meta, nil
}

// ProcessScheduledPublications publishes every review-state workflow whose
// scheduled time has passed, attributed to the scheduler identity. Wall
// clock comparison at call time; there are no per-entry timers.
func (m *Manager) ProcessScheduledPublications(ctx context.Context) (int, error) {
	all, err := m.repo.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load workflows: %w", err)
	}

	now := m.now()
	published := 0
	for id, meta := range all {
		if meta.CurrentState != StateReview || meta.ScheduledPublishAt == nil {
			continue
		}
		if meta.ScheduledPublishAt.After(now) {
			continue
		}
		if _, err := m.Transition(ctx, id, StatePublished, TransitionInput{
			Actor:   SchedulerIdentity,
			Comment: "scheduled publication",
		}); err != nil {
			m.logger.Error("scheduled publication failed",
				zap.String("override_id", id),
				zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}
