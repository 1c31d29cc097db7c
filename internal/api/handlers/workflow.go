package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/api/middleware"
	"github.com/zorgflow/carepath/internal/domain/notification"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
	"github.com/zorgflow/carepath/internal/domain/validation"
	"github.com/zorgflow/carepath/internal/domain/workflow"
	"github.com/zorgflow/carepath/internal/infrastructure/auditsink"
	"github.com/zorgflow/carepath/internal/observability/metrics"
)

// NewPublishGate enforces the approval gate and the validation verdict at
// publish time. A pending high-risk override, or one the validator refuses
// to publish, never reaches published state, whoever asks and however the
// publish is triggered.
func NewPublishGate(overrides override.Repository) workflow.PublishGate {
	return func(ctx context.Context, overrideID string) error {
		o, err := overrides.Get(ctx, overrideID)
		if err != nil {
			if errors.Is(err, override.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load override for publish gate: %w", err)
		}
		if o.PendingApproval {
			return fmt.Errorf("%w: %s risk needs physician sign-off", workflow.ErrPublishApprovalPending, o.RiskLevel)
		}
		t, ok := pathway.TemplateByID(o.OriginalTemplateID)
		if !ok {
			return nil
		}
		if !validation.Validate(t, o).CanPublish {
			return workflow.ErrPublishBlocked
		}
		return nil
	}
}

// WorkflowHandler handles the draft/review/publish lifecycle endpoints.
type WorkflowHandler struct {
	workflows *workflow.Manager
	overrides override.Repository
	feed      *notification.Feed
	audit     *auditsink.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewWorkflowHandler creates a new handler.
func NewWorkflowHandler(
	workflows *workflow.Manager,
	overrides override.Repository,
	feed *notification.Feed,
	audit *auditsink.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		overrides: overrides,
		feed:      feed,
		audit:     audit,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes.
func (h *WorkflowHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{overrideID}", h.Get)
	r.Get("/{overrideID}/capabilities", h.Capabilities)
	r.Post("/{overrideID}/transition", h.Transition)
	r.Post("/{overrideID}/schedule", h.Schedule)
	return r
}

// Get handles GET /workflows/{overrideID}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	meta, err := h.workflows.Ensure(r.Context(), chi.URLParam(r, "overrideID"), user)
	if err != nil {
		jsonError(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// Capabilities handles GET /workflows/{overrideID}/capabilities.
func (h *WorkflowHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)
	role := middleware.GetRole(ctx)

	meta, err := h.workflows.Ensure(ctx, chi.URLParam(r, "overrideID"), user)
	if err != nil {
		jsonError(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workflow.CapabilitiesFor(meta.CurrentState, role, meta.Author == user))
}

// TransitionRequest is the request body for a state change.
type TransitionRequest struct {
	To          workflow.State `json:"to"`
	Comment     string         `json:"comment,omitempty"`
	ReviewNotes string         `json:"review_notes,omitempty"`
}

// Transition handles POST /workflows/{overrideID}/transition. Capability
// checks run against the caller's role before the state machine moves.
func (h *WorkflowHandler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overrideID := chi.URLParam(r, "overrideID")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user := middleware.GetUser(ctx)
	role := middleware.GetRole(ctx)

	meta, err := h.workflows.Ensure(ctx, overrideID, user)
	if err != nil {
		jsonError(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}
	if !h.allowed(meta, req.To, role, user) {
		jsonError(w, "role not permitted to perform this transition", http.StatusForbidden)
		return
	}

	in := workflow.TransitionInput{
		Actor:       user,
		Role:        role,
		Comment:     req.Comment,
		ReviewNotes: req.ReviewNotes,
	}
	if req.To == workflow.StatePublished {
		in.Approver = user
	}

	meta, err = h.workflows.Transition(ctx, overrideID, req.To, in)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrInvalidTransition),
			errors.Is(err, workflow.ErrPublishApprovalPending):
			jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, workflow.ErrPublishBlocked):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			jsonError(w, "failed to transition workflow", http.StatusInternalServerError)
		}
		return
	}

	h.notify(ctx, overrideID, req.To, user)
	h.audit.Record(ctx, auditsink.Action{
		User:    user,
		Role:    string(role),
		Action:  "workflow_transition",
		Target:  overrideID,
		Details: string(req.To),
	})
	writeJSON(w, http.StatusOK, meta)
}

// allowed maps a target state onto the capability it requires.
func (h *WorkflowHandler) allowed(meta *workflow.Metadata, to workflow.State, role pathway.Role, user string) bool {
	caps := workflow.CapabilitiesFor(meta.CurrentState, role, meta.Author == user)
	switch to {
	case workflow.StateReview:
		return caps.CanRequestReview
	case workflow.StatePublished:
		return caps.CanPublish
	case workflow.StateArchived:
		return caps.CanArchive
	case workflow.StateDraft:
		// From review: the author may withdraw, a reviewer may send back.
		// From archived: anyone may restore to draft.
		if meta.CurrentState == workflow.StateReview {
			return meta.Author == user || caps.CanApproveReview
		}
		return caps.CanRestore
	}
	return false
}

func (h *WorkflowHandler) notify(ctx context.Context, overrideID string, to workflow.State, actor string) {
	name := overrideID
	if o, err := h.overrides.Get(ctx, overrideID); err == nil {
		name = o.Name.EN
	}

	switch to {
	case workflow.StatePublished:
		h.metrics.PathwaysPublished.Inc()
		if _, err := h.feed.Publish(ctx, notification.ForPublication(overrideID, name, actor)); err != nil {
			h.logger.Error("publish notification failed", zap.Error(err))
		}
	case workflow.StateReview:
		if _, err := h.feed.Publish(ctx, notification.ForReviewRequest(overrideID, name, actor)); err != nil {
			h.logger.Error("review notification failed", zap.Error(err))
		}
	}
}

// ScheduleRequest is the request body for scheduling a publication.
type ScheduleRequest struct {
	At time.Time `json:"at"`
}

// Schedule handles POST /workflows/{overrideID}/schedule.
func (h *WorkflowHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overrideID := chi.URLParam(r, "overrideID")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.At.IsZero() || req.At.Before(time.Now()) {
		jsonError(w, "scheduled time must be in the future", http.StatusBadRequest)
		return
	}

	meta, err := h.workflows.SchedulePublish(ctx, overrideID, req.At, middleware.GetUser(ctx))
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			jsonError(w, "workflow not found", http.StatusNotFound)
		case errors.Is(err, workflow.ErrScheduleState):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, "failed to schedule publication", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
