package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// TemplateHandler serves the read-only NHG template catalog and the
// effective (template plus override) view.
type TemplateHandler struct {
	overrides override.Repository
	logger    *zap.Logger
}

// NewTemplateHandler creates a new handler.
func NewTemplateHandler(overrides override.Repository, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{overrides: overrides, logger: logger}
}

// Routes returns the handler routes.
func (h *TemplateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{templateID}", h.Get)
	r.Get("/{templateID}/effective", h.Effective)
	return r
}

// TemplateSummary is one catalog tile.
type TemplateSummary struct {
	ID          string            `json:"id"`
	Name        pathway.Text      `json:"name"`
	Condition   pathway.Condition `json:"condition"`
	Version     string            `json:"version"`
	Summary     pathway.Summary   `json:"summary"`
	HasOverride bool              `json:"has_override"`
}

// List handles GET /templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var out []TemplateSummary
	for _, t := range pathway.DefaultTemplates() {
		_, err := h.overrides.GetByTemplate(ctx, t.ID)
		out = append(out, TemplateSummary{
			ID:          t.ID,
			Name:        t.Name,
			Condition:   t.Condition,
			Version:     t.Version,
			Summary:     t.Summary,
			HasOverride: err == nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /templates/{templateID}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := pathway.TemplateByID(chi.URLParam(r, "templateID"))
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// EffectiveView is a template with its local override applied.
type EffectiveView struct {
	TemplateID string             `json:"template_id"`
	OverrideID string             `json:"override_id,omitempty"`
	Steps      []pathway.Step     `json:"steps"`
	Thresholds map[string]float64 `json:"thresholds"`
	RiskLevel  pathway.RiskLevel  `json:"risk_level"`
}

// Effective handles GET /templates/{templateID}/effective. Without an
// override this is the NHG default itself.
func (h *TemplateHandler) Effective(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, ok := pathway.TemplateByID(chi.URLParam(r, "templateID"))
	if !ok {
		jsonError(w, "template not found", http.StatusNotFound)
		return
	}

	o, err := h.overrides.GetByTemplate(ctx, t.ID)
	if err != nil && !errors.Is(err, override.ErrNotFound) {
		jsonError(w, "failed to load override", http.StatusInternalServerError)
		return
	}

	view := EffectiveView{
		TemplateID: t.ID,
		Steps:      override.EffectiveSteps(t, o),
		Thresholds: override.EffectiveThresholds(t, o),
		RiskLevel:  pathway.RiskLow,
	}
	if o != nil {
		view.OverrideID = o.ID
		view.RiskLevel = o.RiskLevel
	}
	writeJSON(w, http.StatusOK, view)
}
