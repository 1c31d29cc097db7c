// Package handlers provides HTTP handlers for the pathway API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/api/middleware"
	"github.com/zorgflow/carepath/internal/domain/changelog"
	"github.com/zorgflow/carepath/internal/domain/deviation"
	"github.com/zorgflow/carepath/internal/domain/notification"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
	"github.com/zorgflow/carepath/internal/domain/validation"
	"github.com/zorgflow/carepath/internal/domain/workflow"
	"github.com/zorgflow/carepath/internal/infrastructure/auditsink"
	"github.com/zorgflow/carepath/internal/observability/metrics"
)

// overrideUndo is the undo payload stored with history entries that touch an
// override. A nil Override means the entry created the override, so undoing
// it supersedes the record.
type overrideUndo struct {
	TemplateID string                  `json:"template_id"`
	Override   *override.LocalOverride `json:"override,omitempty"`
}

// OverrideHandler handles local override endpoints.
type OverrideHandler struct {
	overrides override.Repository
	changes   *changelog.Manager
	workflows *workflow.Manager
	feed      *notification.Feed
	audit     *auditsink.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewOverrideHandler creates a new handler.
func NewOverrideHandler(
	overrides override.Repository,
	changes *changelog.Manager,
	workflows *workflow.Manager,
	feed *notification.Feed,
	audit *auditsink.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OverrideHandler {
	return &OverrideHandler{
		overrides: overrides,
		changes:   changes,
		workflows: workflows,
		feed:      feed,
		audit:     audit,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes.
func (h *OverrideHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{templateID}", h.Get)
	r.Put("/{templateID}", h.Save)
	r.Delete("/{templateID}", h.Revert)
	r.Post("/{templateID}/validate", h.Validate)
	r.Get("/{templateID}/deviations", h.Deviations)
	r.Post("/{templateID}/approve", h.Approve)
	return r
}

// List handles GET /overrides.
func (h *OverrideHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.overrides.GetAll(r.Context())
	if err != nil {
		jsonError(w, "failed to load overrides", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// Get handles GET /overrides/{templateID}.
func (h *OverrideHandler) Get(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	o, err := h.overrides.GetByTemplate(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			jsonError(w, "no override for template", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// SaveRequest is the request body for saving an override.
type SaveRequest struct {
	Steps         map[string]override.StepPatch `json:"steps"`
	Thresholds    map[string]float64            `json:"thresholds"`
	Justification string                        `json:"justification"`
}

// SaveResponse is the response for saving an override.
type SaveResponse struct {
	Override   *override.LocalOverride `json:"override"`
	Deviations []deviation.Deviation   `json:"deviations"`
	Summary    deviation.Summary       `json:"summary"`
	Validation validation.Result       `json:"validation"`
}

// Save handles PUT /overrides/{templateID}. The override is created on
// first save and updated in place afterwards; every save recomputes risk,
// deviations and validation, and appends a reversible history entry.
func (h *OverrideHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("override-handler")
	ctx, span := tracer.Start(ctx, "save_override")
	defer span.End()

	templateID := chi.URLParam(r, "templateID")
	span.SetAttributes(attribute.String("template_id", templateID))

	t, ok := pathway.TemplateByID(templateID)
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}

	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Justification == "" {
		jsonError(w, override.ErrJustificationRequired.Error(), http.StatusBadRequest)
		return
	}

	user := middleware.GetUser(ctx)

	o, err := h.overrides.GetByTemplate(ctx, templateID)
	isNew := errors.Is(err, override.ErrNotFound)
	if err != nil && !isNew {
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}
	var before *override.LocalOverride
	if isNew {
		o = override.New(uuid.New().String(), t, user)
	} else {
		// Deep copy: the patch loop below mutates o's maps, and the
		// history entry must capture the pre-change state.
		before = o.Clone()
	}

	for stepID, patch := range req.Steps {
		if err := o.SetStepPatch(t, stepID, patch); err != nil {
			jsonError(w, fmt.Sprintf("step %s: %s", stepID, err), http.StatusBadRequest)
			return
		}
	}
	for key, value := range req.Thresholds {
		o.SetThreshold(t, key, value)
	}
	o.Justification = req.Justification

	devs := deviation.Analyze(t, o)
	if acc := deviation.CheckAcceptability(devs, req.Justification); !acc.Acceptable {
		h.metrics.OverridesRejected.Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      acc.Reason,
			"deviations": devs,
		})
		return
	}

	result := validation.Validate(t, o)

	if err := h.overrides.Save(ctx, o); err != nil {
		h.logger.Error("save override failed", zap.Error(err))
		jsonError(w, "failed to save override", http.StatusInternalServerError)
		return
	}
	if _, err := h.workflows.Ensure(ctx, o.ID, user); err != nil {
		h.logger.Error("ensure workflow failed", zap.Error(err))
	}

	h.logHistory(ctx, t, o, before, req.Justification)
	h.recordMetrics(devs)
	h.notifyCritical(ctx, o, devs)
	h.audit.Record(ctx, auditsink.Action{
		User:   user,
		Role:   string(middleware.GetRole(ctx)),
		Action: "override_saved",
		Target: templateID,
	})

	h.logger.Info("override saved",
		zap.String("template_id", templateID),
		zap.String("override_id", o.ID),
		zap.String("risk", string(o.RiskLevel)),
		zap.Int("deviations", len(devs)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, SaveResponse{
		Override:   o,
		Deviations: devs,
		Summary:    deviation.Summarize(devs),
		Validation: result,
	})
}

func (h *OverrideHandler) logHistory(ctx context.Context, t *pathway.Template, o, before *override.LocalOverride, justification string) {
	undo, _ := json.Marshal(overrideUndo{TemplateID: t.ID, Override: before})
	var beforeState json.RawMessage
	if before != nil {
		beforeState, _ = json.Marshal(before)
	}
	afterState, _ := json.Marshal(o)

	_, err := h.changes.LogChange(ctx, changelog.LogInput{
		UserID:        o.Author,
		UserName:      o.Author,
		ChangeType:    changelog.TypePathwayOverride,
		Name:          t.Name.EN,
		Description:   fmt.Sprintf("Override of %s (%d steps, %d thresholds)", t.ID, len(o.Steps), len(o.Thresholds)),
		Justification: justification,
		Impact:        changelog.ImpactData{RiskAssessment: o.RiskLevel},
		BeforeState:   beforeState,
		AfterState:    afterState,
		UndoData:      undo,
	})
	if err != nil {
		h.logger.Error("log change failed", zap.Error(err))
	}
}

func (h *OverrideHandler) recordMetrics(devs []deviation.Deviation) {
	h.metrics.OverridesSaved.Inc()
	for _, d := range devs {
		h.metrics.DeviationsDetected.WithLabelValues(string(d.Risk)).Inc()
	}
}

func (h *OverrideHandler) notifyCritical(ctx context.Context, o *override.LocalOverride, devs []deviation.Deviation) {
	critical := 0
	for _, d := range devs {
		if d.Risk == pathway.RiskCritical {
			critical++
		}
	}
	if critical == 0 {
		return
	}
	if _, err := h.feed.Publish(ctx, notification.ForCriticalDeviation(o.ID, o.Name.EN, critical)); err != nil {
		h.logger.Error("publish critical deviation notification failed", zap.Error(err))
	}
}

// Validate handles POST /overrides/{templateID}/validate. Runs the full
// check pipeline against the request body without persisting anything.
func (h *OverrideHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID := chi.URLParam(r, "templateID")

	t, ok := pathway.TemplateByID(templateID)
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}

	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o := override.New(uuid.New().String(), t, middleware.GetUser(ctx))
	if existing, err := h.overrides.GetByTemplate(ctx, templateID); err == nil {
		o = existing
	}
	for stepID, patch := range req.Steps {
		if err := o.SetStepPatch(t, stepID, patch); err != nil {
			jsonError(w, fmt.Sprintf("step %s: %s", stepID, err), http.StatusBadRequest)
			return
		}
	}
	for key, value := range req.Thresholds {
		o.SetThreshold(t, key, value)
	}

	devs := deviation.Analyze(t, o)
	score, level := deviation.ComplianceScore(devs)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validation":       validation.Validate(t, o),
		"deviations":       devs,
		"summary":          deviation.Summarize(devs),
		"compliance_score": score,
		"compliance_level": level,
		"acceptability":    deviation.CheckAcceptability(devs, req.Justification),
		"risk_level":       o.RiskLevel,
	})
}

// Deviations handles GET /overrides/{templateID}/deviations.
func (h *OverrideHandler) Deviations(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	t, ok := pathway.TemplateByID(templateID)
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}

	o, err := h.overrides.GetByTemplate(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			jsonError(w, "no override for template", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}

	devs := deviation.Analyze(t, o)
	score, level := deviation.ComplianceScore(devs)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deviations":       devs,
		"summary":          deviation.Summarize(devs),
		"compliance_score": score,
		"compliance_level": level,
	})
}

// Approve handles POST /overrides/{templateID}/approve. The approver comes
// from the request identity; roles without physician authority are refused.
func (h *OverrideHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID := chi.URLParam(r, "templateID")

	o, err := h.overrides.GetByTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			jsonError(w, "no override for template", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}

	user := middleware.GetUser(ctx)
	role := middleware.GetRole(ctx)

	if err := override.Approve(o, user, role); err != nil {
		switch {
		case errors.Is(err, override.ErrApproverAuthority):
			jsonError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, override.ErrApprovalNotPending):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if err := h.overrides.Save(ctx, o); err != nil {
		jsonError(w, "failed to save override", http.StatusInternalServerError)
		return
	}

	h.audit.Record(ctx, auditsink.Action{
		User:   user,
		Role:   string(role),
		Action: "override_approved",
		Target: templateID,
	})
	writeJSON(w, http.StatusOK, o)
}

// Revert handles DELETE /overrides/{templateID}. The override is superseded
// rather than deleted, and the revert itself is undoable within the window.
func (h *OverrideHandler) Revert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID := chi.URLParam(r, "templateID")

	t, ok := pathway.TemplateByID(templateID)
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}

	o, err := h.overrides.GetByTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			jsonError(w, "no override for template", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}

	user := middleware.GetUser(ctx)
	snapshot := o.Clone()
	o.SupersededBy = "revert:" + uuid.New().String()
	o.LastModified = time.Now().UTC()

	if err := h.overrides.Save(ctx, o); err != nil {
		jsonError(w, "failed to save override", http.StatusInternalServerError)
		return
	}

	undo, _ := json.Marshal(overrideUndo{TemplateID: t.ID, Override: snapshot})
	beforeState, _ := json.Marshal(snapshot)
	if _, err := h.changes.LogChange(ctx, changelog.LogInput{
		UserID:        user,
		UserName:      user,
		ChangeType:    changelog.TypeConfigurationChange,
		Name:          t.Name.EN,
		Description:   "Reverted to NHG default",
		Justification: "Restore NHG standard pathway",
		Impact:        changelog.ImpactData{RiskAssessment: pathway.RiskLow},
		BeforeState:   beforeState,
		UndoData:      undo,
	}); err != nil {
		h.logger.Error("log revert failed", zap.Error(err))
	}

	h.audit.Record(ctx, auditsink.Action{
		User:   user,
		Role:   string(middleware.GetRole(ctx)),
		Action: "override_reverted",
		Target: templateID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reverted", "template_id": templateID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
