// Package postgres provides PostgreSQL persistence for the pathway
// configuration store. Every record is written whole (key columns plus a
// jsonb payload); there are no partial writes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/domain/assignment"
	"github.com/zorgflow/carepath/internal/domain/changelog"
	"github.com/zorgflow/carepath/internal/domain/notification"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/workflow"
	"github.com/zorgflow/carepath/internal/infrastructure/redpanda"
)

// OverrideRepository persists local overrides.
type OverrideRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewOverrideRepository creates a new repository.
func NewOverrideRepository(pool *pgxpool.Pool, logger *zap.Logger) *OverrideRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideRepository{pool: pool, logger: logger}
}

func (r *OverrideRepository) Get(ctx context.Context, id string) (*override.LocalOverride, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM pathway_overrides WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, override.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query override: %w", err)
	}
	return decodeOverride(data)
}

func (r *OverrideRepository) GetByTemplate(ctx context.Context, templateID string) (*override.LocalOverride, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT data FROM pathway_overrides
		WHERE template_id = $1 AND superseded_by = ''
		ORDER BY last_modified DESC
		LIMIT 1
	`, templateID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, override.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query override by template: %w", err)
	}
	return decodeOverride(data)
}

func (r *OverrideRepository) GetAll(ctx context.Context) ([]*override.LocalOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT data FROM pathway_overrides ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var out []*override.LocalOverride
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o, err := decodeOverride(data)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Save upserts the override and writes the outbox entry announcing the
// change in the same transaction.
func (r *OverrideRepository) Save(ctx context.Context, o *override.LocalOverride) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pathway_overrides (id, template_id, risk_level, pending_approval, superseded_by, last_modified, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET risk_level = $3, pending_approval = $4, superseded_by = $5, last_modified = $6, data = $7
	`, o.ID, o.OriginalTemplateID, string(o.RiskLevel), o.PendingApproval, o.SupersededBy, o.LastModified, data)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}

	if err := WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   o.ID,
		AggregateType: "LocalOverride",
		EventType:     "OverrideSaved",
		Payload:       data,
		Topic:         redpanda.TopicPathwayEvents,
		Key:           o.ID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func decodeOverride(data []byte) (*override.LocalOverride, error) {
	var o override.LocalOverride
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode override: %w", err)
	}
	return &o, nil
}

// AssignmentRepository persists patient pathway assignments.
type AssignmentRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAssignmentRepository creates a new repository.
func NewAssignmentRepository(pool *pgxpool.Pool, logger *zap.Logger) *AssignmentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentRepository{pool: pool, logger: logger}
}

func (r *AssignmentRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM patient_assignments WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, assignment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return decodeAssignment(data)
}

func (r *AssignmentRepository) GetByPatient(ctx context.Context, patientID string) ([]*assignment.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT data FROM patient_assignments
		WHERE patient_id = $1
		ORDER BY assigned_date DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *AssignmentRepository) GetAll(ctx context.Context) ([]*assignment.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT data FROM patient_assignments ORDER BY assigned_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *AssignmentRepository) Save(ctx context.Context, a *assignment.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO patient_assignments (id, patient_id, template_id, status, assigned_date, last_modified, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = $4, last_modified = $6, data = $7
	`, a.ID, a.PatientID, a.TemplateID, string(a.Status), a.AssignedDate, a.LastModified, data)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func scanAssignments(rows pgx.Rows) ([]*assignment.Assignment, error) {
	var out []*assignment.Assignment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a, err := decodeAssignment(data)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodeAssignment(data []byte) (*assignment.Assignment, error) {
	var a assignment.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &a, nil
}

// AuditRepository persists patient pathway audit entries, and mirrors each
// entry onto the audit trail topic via the outbox.
type AuditRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditRepository creates a new repository.
func NewAuditRepository(pool *pgxpool.Pool, logger *zap.Logger) *AuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRepository{pool: pool, logger: logger}
}

func (r *AuditRepository) Append(ctx context.Context, e *assignment.AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patient_pathway_audit (id, assignment_id, patient_id, actor, action_type, risk, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Assignment, e.PatientID, e.Actor, e.ActionType, string(e.Risk), e.Timestamp, data)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if err := WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   e.Assignment,
		AggregateType: "PatientPathway",
		EventType:     "StepAdjusted",
		Payload:       data,
		Topic:         redpanda.TopicAuditTrail,
		Key:           e.Assignment,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *AuditRepository) GetByAssignment(ctx context.Context, assignmentID string) ([]*assignment.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT data FROM patient_pathway_audit
		WHERE assignment_id = $1
		ORDER BY created_at DESC
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*assignment.AuditEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var e assignment.AuditEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ChangeLogRepository persists the change history as one ordered blob,
// matching the history manager's whole-collection contract.
type ChangeLogRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewChangeLogRepository creates a new repository.
func NewChangeLogRepository(pool *pgxpool.Pool, logger *zap.Logger) *ChangeLogRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeLogRepository{pool: pool, logger: logger}
}

func (r *ChangeLogRepository) GetAll(ctx context.Context) ([]changelog.Entry, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM kv_collections WHERE key = 'changeHistory'`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query change history: %w", err)
	}
	var entries []changelog.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode change history: %w", err)
	}
	return entries, nil
}

func (r *ChangeLogRepository) SaveAll(ctx context.Context, entries []changelog.Entry) error {
	return saveCollection(ctx, r.pool, "changeHistory", entries)
}

// NotificationRepository persists the practice feed as one ordered blob.
type NotificationRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewNotificationRepository creates a new repository.
func NewNotificationRepository(pool *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationRepository{pool: pool, logger: logger}
}

func (r *NotificationRepository) GetAll(ctx context.Context) ([]notification.Notification, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM kv_collections WHERE key = 'practiceNotifications'`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	var items []notification.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return items, nil
}

func (r *NotificationRepository) SaveAll(ctx context.Context, items []notification.Notification) error {
	return saveCollection(ctx, r.pool, "practiceNotifications", items)
}

// WorkflowRepository persists workflow metadata keyed by override id.
type WorkflowRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewWorkflowRepository creates a new repository.
func NewWorkflowRepository(pool *pgxpool.Pool, logger *zap.Logger) *WorkflowRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowRepository{pool: pool, logger: logger}
}

func (r *WorkflowRepository) Get(ctx context.Context, overrideID string) (*workflow.Metadata, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM pathway_workflows WHERE override_id = $1`, overrideID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	var meta workflow.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &meta, nil
}

func (r *WorkflowRepository) GetAll(ctx context.Context) (map[string]*workflow.Metadata, error) {
	rows, err := r.pool.Query(ctx, `SELECT data FROM pathway_workflows`)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*workflow.Metadata)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var meta workflow.Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out[meta.OverrideID] = &meta
	}
	return out, rows.Err()
}

func (r *WorkflowRepository) Save(ctx context.Context, meta *workflow.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pathway_workflows (override_id, current_state, version, last_modified, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (override_id) DO UPDATE
		SET current_state = $2, version = $3, last_modified = $4, data = $5
	`, meta.OverrideID, string(meta.CurrentState), meta.Version, meta.LastModified, data)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	if meta.CurrentState == workflow.StatePublished || meta.CurrentState == workflow.StateReview {
		if err := WriteEntry(ctx, tx, &OutboxEntry{
			AggregateID:   meta.OverrideID,
			AggregateType: "Workflow",
			EventType:     "Workflow" + titleState(meta.CurrentState),
			Payload:       data,
			Topic:         redpanda.TopicPathwayEvents,
			Key:           meta.OverrideID,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func titleState(s workflow.State) string {
	switch s {
	case workflow.StatePublished:
		return "Published"
	case workflow.StateReview:
		return "ReviewRequested"
	}
	return string(s)
}

func saveCollection(ctx context.Context, pool *pgxpool.Pool, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO kv_collections (key, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = $2, updated_at = NOW()
	`, key, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
