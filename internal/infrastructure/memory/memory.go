// Package memory provides in-process repository implementations preserving
// the session-local read-modify-write semantics of the original store.
// Used by tests and the single-user demo mode.
package memory

import (
	"context"
	"sync"

	"github.com/zorgflow/carepath/internal/domain/assignment"
	"github.com/zorgflow/carepath/internal/domain/changelog"
	"github.com/zorgflow/carepath/internal/domain/notification"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/workflow"
)

// OverrideRepository stores overrides in memory.
type OverrideRepository struct {
	mu    sync.RWMutex
	items map[string]*override.LocalOverride
}

// NewOverrideRepository creates an empty store.
func NewOverrideRepository() *OverrideRepository {
	return &OverrideRepository{items: make(map[string]*override.LocalOverride)}
}

func (r *OverrideRepository) Get(_ context.Context, id string) (*override.LocalOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.items[id]
	if !ok {
		return nil, override.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OverrideRepository) GetByTemplate(_ context.Context, templateID string) (*override.LocalOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.items {
		if o.OriginalTemplateID == templateID && o.SupersededBy == "" {
			return o.Clone(), nil
		}
	}
	return nil, override.ErrNotFound
}

func (r *OverrideRepository) GetAll(_ context.Context) ([]*override.LocalOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*override.LocalOverride, 0, len(r.items))
	for _, o := range r.items {
		out = append(out, o.Clone())
	}
	return out, nil
}

// Save stores a deep copy so callers keep no aliases into the store. A
// later rejected edit on the returned value must never surface here.
func (r *OverrideRepository) Save(_ context.Context, o *override.LocalOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[o.ID] = o.Clone()
	return nil
}

// AssignmentRepository stores patient assignments in memory.
type AssignmentRepository struct {
	mu    sync.RWMutex
	items map[string]*assignment.Assignment
}

// NewAssignmentRepository creates an empty store.
func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{items: make(map[string]*assignment.Assignment)}
}

func (r *AssignmentRepository) Get(_ context.Context, id string) (*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, assignment.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *AssignmentRepository) GetByPatient(_ context.Context, patientID string) ([]*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*assignment.Assignment
	for _, a := range r.items {
		if a.PatientID == patientID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *AssignmentRepository) GetAll(_ context.Context) ([]*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*assignment.Assignment, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (r *AssignmentRepository) Save(_ context.Context, a *assignment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = a.Clone()
	return nil
}

// AuditRepository stores patient pathway audit entries in memory.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []*assignment.AuditEntry
}

// NewAuditRepository creates an empty store.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(_ context.Context, e *assignment.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *e
	r.entries = append([]*assignment.AuditEntry{&clone}, r.entries...)
	return nil
}

func (r *AuditRepository) GetByAssignment(_ context.Context, assignmentID string) ([]*assignment.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*assignment.AuditEntry
	for _, e := range r.entries {
		if e.Assignment == assignmentID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ChangeLogRepository stores the change history in memory.
type ChangeLogRepository struct {
	mu      sync.RWMutex
	entries []changelog.Entry
}

// NewChangeLogRepository creates an empty store.
func NewChangeLogRepository() *ChangeLogRepository {
	return &ChangeLogRepository{}
}

func (r *ChangeLogRepository) GetAll(_ context.Context) ([]changelog.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]changelog.Entry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *ChangeLogRepository) SaveAll(_ context.Context, entries []changelog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make([]changelog.Entry, len(entries))
	copy(r.entries, entries)
	return nil
}

// WorkflowRepository stores workflow metadata in memory.
type WorkflowRepository struct {
	mu    sync.RWMutex
	items map[string]*workflow.Metadata
}

// NewWorkflowRepository creates an empty store.
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{items: make(map[string]*workflow.Metadata)}
}

func (r *WorkflowRepository) Get(_ context.Context, overrideID string) (*workflow.Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.items[overrideID]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	clone := *meta
	clone.Transitions = append([]workflow.Transition(nil), meta.Transitions...)
	return &clone, nil
}

func (r *WorkflowRepository) GetAll(_ context.Context) (map[string]*workflow.Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*workflow.Metadata, len(r.items))
	for id, meta := range r.items {
		clone := *meta
		clone.Transitions = append([]workflow.Transition(nil), meta.Transitions...)
		out[id] = &clone
	}
	return out, nil
}

func (r *WorkflowRepository) Save(_ context.Context, meta *workflow.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *meta
	clone.Transitions = append([]workflow.Transition(nil), meta.Transitions...)
	r.items[meta.OverrideID] = &clone
	return nil
}

// NotificationRepository stores the practice feed in memory.
type NotificationRepository struct {
	mu    sync.RWMutex
	items []notification.Notification
}

// NewNotificationRepository creates an empty store.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

func (r *NotificationRepository) GetAll(_ context.Context) ([]notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]notification.Notification, len(r.items))
	copy(out, r.items)
	return out, nil
}

func (r *NotificationRepository) SaveAll(_ context.Context, items []notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make([]notification.Notification, len(items))
	copy(r.items, items)
	return nil
}
