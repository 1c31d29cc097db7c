package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/api/middleware"
	"github.com/zorgflow/carepath/internal/domain/assignment"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
	"github.com/zorgflow/carepath/internal/domain/workflow"
	"github.com/zorgflow/carepath/internal/infrastructure/auditsink"
	"github.com/zorgflow/carepath/internal/observability/metrics"
	"github.com/zorgflow/carepath/pkg/workerpool"
)

// AssignmentHandler handles patient pathway assignment endpoints.
type AssignmentHandler struct {
	assignments assignment.Repository
	audits      assignment.AuditRepository
	overrides   override.Repository
	workflows   *workflow.Manager
	audit       *auditsink.Client
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAssignmentHandler creates a new handler.
func NewAssignmentHandler(
	assignments assignment.Repository,
	audits assignment.AuditRepository,
	overrides override.Repository,
	workflows *workflow.Manager,
	audit *auditsink.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AssignmentHandler {
	return &AssignmentHandler{
		assignments: assignments,
		audits:      audits,
		overrides:   overrides,
		workflows:   workflows,
		audit:       audit,
		metrics:     m,
		logger:      logger,
	}
}

// Routes returns the handler routes.
func (h *AssignmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/bulk", h.CreateBulk)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/schedule", h.Schedule)
	r.Get("/{id}/audit", h.Audit)
	r.Get("/patient/{patientID}", h.ByPatient)
	r.Post("/{id}/steps/{stepID}/adjust", h.AdjustStep)
	r.Post("/{id}/steps/{stepID}/complete", h.CompleteStep)
	r.Post("/{id}/steps/{stepID}/resume", h.ResumeStep)
	return r
}

// CreateRequest is the request body for creating an assignment.
type CreateRequest struct {
	PatientID     string    `json:"patient_id"`
	TemplateID    string    `json:"template_id"`
	StartDate     time.Time `json:"start_date"`
	Justification string    `json:"justification"`
}

// effectiveTemplate returns the template with the practice's published
// override applied, so new assignments snapshot what the practice actually
// runs. Drafts and overrides still in review fall back to the NHG default.
func (h *AssignmentHandler) effectiveTemplate(ctx context.Context, templateID string) (*pathway.Template, error) {
	t, ok := pathway.TemplateByID(templateID)
	if !ok {
		return nil, fmt.Errorf("template %s not found", templateID)
	}

	o, err := h.overrides.GetByTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			return t, nil
		}
		return nil, err
	}
	if o.SupersededBy != "" {
		return t, nil
	}

	meta, err := h.workflows.Get(ctx, o.ID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return t, nil
		}
		return nil, err
	}
	if meta.CurrentState != workflow.StatePublished {
		return t, nil
	}

	effective := *t
	effective.Steps = override.EffectiveSteps(t, o)
	effective.Thresholds = override.EffectiveThresholds(t, o)
	return &effective, nil
}

// Create handles POST /assignments.
func (h *AssignmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("assignment-handler")
	ctx, span := tracer.Start(ctx, "create_assignment")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		jsonError(w, "patient_id is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("patient_id", req.PatientID))

	a, err := h.createOne(ctx, req, middleware.GetUser(ctx))
	if err != nil {
		if errors.Is(err, assignment.ErrJustification) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("assignment created",
		zap.String("id", a.ID),
		zap.String("patient_id", a.PatientID),
		zap.String("template_id", a.TemplateID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, a)
}

func (h *AssignmentHandler) createOne(ctx context.Context, req CreateRequest, user string) (*assignment.Assignment, error) {
	t, err := h.effectiveTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = time.Now().UTC()
	}

	a, err := assignment.Create(req.PatientID, t, user, startDate, req.Justification)
	if err != nil {
		return nil, err
	}
	if err := h.assignments.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save assignment: %w", err)
	}

	h.metrics.AssignmentsCreated.Inc()
	h.metrics.ActiveAssignments.Inc()
	h.audit.Record(ctx, auditsink.Action{
		User:   user,
		Role:   string(middleware.GetRole(ctx)),
		Action: "assignment_created",
		Target: a.ID,
	})
	return a, nil
}

// BulkRequest assigns one template to a patient cohort.
type BulkRequest struct {
	PatientIDs    []string  `json:"patient_ids"`
	TemplateID    string    `json:"template_id"`
	StartDate     time.Time `json:"start_date"`
	Justification string    `json:"justification"`
}

// BulkResponse reports per-patient outcomes of a cohort assignment.
type BulkResponse struct {
	Created int               `json:"created"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// CreateBulk handles POST /assignments/bulk. The cohort fans out over a
// bounded worker pool; one patient failing does not abort the rest.
func (h *AssignmentHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.PatientIDs) == 0 {
		jsonError(w, "patient_ids is required", http.StatusBadRequest)
		return
	}

	user := middleware.GetUser(ctx)

	// The join below only starts draining once every task is submitted, and
	// the pool drops results when its channel is full. Size the queue to the
	// whole cohort so no result is ever lost.
	cfg := workerpool.DefaultConfig()
	if n := len(req.PatientIDs); n > cfg.QueueSize {
		cfg.QueueSize = n
	}

	pool, err := workerpool.New(cfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		patientID := task.Payload.(string)
		_, err := h.createOne(ctx, CreateRequest{
			PatientID:     patientID,
			TemplateID:    req.TemplateID,
			StartDate:     req.StartDate,
			Justification: req.Justification,
		}, user)
		return &workerpool.Result{TaskID: task.ID, Success: err == nil, Error: err}
	}, h.logger)
	if err != nil {
		jsonError(w, "failed to start bulk assignment", http.StatusInternalServerError)
		return
	}
	pool.Start()

	submitted := 0
	resp := BulkResponse{Errors: make(map[string]string)}
	for _, patientID := range req.PatientIDs {
		err := pool.Submit(&workerpool.Task{ID: patientID, Payload: patientID, Context: ctx})
		if err != nil {
			resp.Failed++
			resp.Errors[patientID] = err.Error()
			continue
		}
		submitted++
	}

	results := pool.Results()
	for i := 0; i < submitted; i++ {
		result := <-results
		if result.Success {
			resp.Created++
		} else {
			resp.Failed++
			resp.Errors[result.TaskID] = result.Error.Error()
		}
	}
	pool.Stop()

	h.logger.Info("bulk assignment completed",
		zap.String("template_id", req.TemplateID),
		zap.Int("created", resp.Created),
		zap.Int("failed", resp.Failed),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /assignments/{id}.
func (h *AssignmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "assignment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// StepSchedule is one row of the patient schedule view.
type StepSchedule struct {
	StepID  string                   `json:"step_id"`
	Name    pathway.Text             `json:"name"`
	Status  assignment.StepStatus    `json:"status"`
	Display assignment.DisplayStatus `json:"display"`
}

// Schedule handles GET /assignments/{id}/schedule.
func (h *AssignmentHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "assignment not found", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	rows := make([]StepSchedule, 0, len(a.Steps))
	for i := range a.Steps {
		s := &a.Steps[i]
		rows = append(rows, StepSchedule{
			StepID:  s.StepID,
			Name:    s.OriginalStep.Name,
			Status:  s.Status,
			Display: assignment.StepDisplayStatus(s, now),
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

// Audit handles GET /assignments/{id}/audit.
func (h *AssignmentHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audits.GetByAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "failed to load audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ByPatient handles GET /assignments/patient/{patientID}.
func (h *AssignmentHandler) ByPatient(w http.ResponseWriter, r *http.Request) {
	list, err := h.assignments.GetByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		jsonError(w, "failed to load assignments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AdjustStep handles POST /assignments/{id}/steps/{stepID}/adjust.
func (h *AssignmentHandler) AdjustStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var adj assignment.StepAdjustment
	if err := json.NewDecoder(r.Body).Decode(&adj); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.assignments.Get(ctx, id)
	if err != nil {
		jsonError(w, "assignment not found", http.StatusNotFound)
		return
	}

	user := middleware.GetUser(ctx)
	updated, entry, err := assignment.AdjustStep(a, stepID, adj, user)
	if err != nil {
		h.adjustError(w, err)
		return
	}

	if err := h.persist(ctx, updated, entry); err != nil {
		jsonError(w, "failed to save adjustment", http.StatusInternalServerError)
		return
	}
	h.metrics.StepsAdjusted.Inc()
	h.audit.Record(ctx, auditsink.Action{
		User:    user,
		Role:    string(middleware.GetRole(ctx)),
		Action:  "step_adjusted",
		Target:  id,
		Details: stepID,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (h *AssignmentHandler) adjustError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assignment.ErrStepNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, assignment.ErrCountersignRequired):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, assignment.ErrAmbiguousAdjustment),
		errors.Is(err, assignment.ErrExclusionReason),
		errors.Is(err, assignment.ErrNotSnoozed):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		jsonError(w, "failed to adjust step", http.StatusInternalServerError)
	}
}

func (h *AssignmentHandler) persist(ctx context.Context, a *assignment.Assignment, entry *assignment.AuditEntry) error {
	if err := h.assignments.Save(ctx, a); err != nil {
		return err
	}
	if entry != nil {
		if err := h.audits.Append(ctx, entry); err != nil {
			h.logger.Error("append audit entry failed", zap.Error(err))
		}
	}
	return nil
}

// CompleteRequest carries optional completion notes.
type CompleteRequest struct {
	Notes string `json:"notes,omitempty"`
}

// CompleteStep handles POST /assignments/{id}/steps/{stepID}/complete.
func (h *AssignmentHandler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var req CompleteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	a, err := h.assignments.Get(ctx, id)
	if err != nil {
		jsonError(w, "assignment not found", http.StatusNotFound)
		return
	}

	updated, entry, err := assignment.CompleteStep(a, stepID, middleware.GetUser(ctx), req.Notes)
	if err != nil {
		h.adjustError(w, err)
		return
	}
	if err := h.persist(ctx, updated, entry); err != nil {
		jsonError(w, "failed to save completion", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ResumeStep handles POST /assignments/{id}/steps/{stepID}/resume.
func (h *AssignmentHandler) ResumeStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	a, err := h.assignments.Get(ctx, id)
	if err != nil {
		jsonError(w, "assignment not found", http.StatusNotFound)
		return
	}

	updated, entry, err := assignment.ResumeSnooze(a, stepID, middleware.GetUser(ctx))
	if err != nil {
		h.adjustError(w, err)
		return
	}
	if err := h.persist(ctx, updated, entry); err != nil {
		jsonError(w, "failed to save resume", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
