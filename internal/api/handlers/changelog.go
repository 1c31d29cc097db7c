package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/api/middleware"
	"github.com/zorgflow/carepath/internal/domain/changelog"
	"github.com/zorgflow/carepath/internal/domain/override"
	"github.com/zorgflow/carepath/internal/infrastructure/auditsink"
	"github.com/zorgflow/carepath/internal/observability/metrics"
)

// ChangeLogHandler handles change history and undo endpoints.
type ChangeLogHandler struct {
	changes   *changelog.Manager
	overrides override.Repository
	audit     *auditsink.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewChangeLogHandler creates a new handler.
func NewChangeLogHandler(
	changes *changelog.Manager,
	overrides override.Repository,
	audit *auditsink.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ChangeLogHandler {
	return &ChangeLogHandler{
		changes:   changes,
		overrides: overrides,
		audit:     audit,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes.
func (h *ChangeLogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.History)
	r.Get("/undoable", h.Undoable)
	r.Get("/stats", h.Stats)
	r.Post("/{entryID}/undo", h.Undo)
	return r
}

// History handles GET /changes with optional filter query parameters.
func (h *ChangeLogHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := changelog.Filter{
		UserID:     q.Get("user"),
		ChangeType: changelog.ChangeType(q.Get("type")),
		Status:     changelog.EntryStatus(q.Get("status")),
		Search:     q.Get("search"),
	}
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &ts
		}
	}

	entries, err := h.changes.History(r.Context(), f)
	if err != nil {
		jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Undoable handles GET /changes/undoable.
func (h *ChangeLogHandler) Undoable(w http.ResponseWriter, r *http.Request) {
	entries, err := h.changes.UndoableChanges(r.Context())
	if err != nil {
		jsonError(w, "failed to load undoable changes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats handles GET /changes/stats.
func (h *ChangeLogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.changes.Stats(r.Context())
	if err != nil {
		jsonError(w, "failed to compute statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UndoRequest carries the reason for reversing a change.
type UndoRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Undo handles POST /changes/{entryID}/undo. The restore executor puts the
// override collection back to its pre-change state.
func (h *ChangeLogHandler) Undo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID := chi.URLParam(r, "entryID")

	var req UndoRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	user := middleware.GetUser(ctx)
	entry, err := h.changes.UndoChange(ctx, entryID, user, req.Reason, h.restoreOverride)
	if err != nil {
		switch {
		case errors.Is(err, changelog.ErrEntryNotFound):
			jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, changelog.ErrNotUndoable),
			errors.Is(err, changelog.ErrNotApplied),
			errors.Is(err, changelog.ErrUndoWindowClosed):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, "undo failed: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.metrics.ChangesUndone.Inc()
	h.audit.Record(ctx, auditsink.Action{
		User:    user,
		Role:    string(middleware.GetRole(ctx)),
		Action:  "change_undone",
		Target:  entryID,
		Details: req.Reason,
	})
	h.logger.Info("change undone",
		zap.String("entry_id", entryID),
		zap.String("user", user),
	)
	writeJSON(w, http.StatusOK, entry)
}

// restoreOverride is the undo executor for override history entries. A
// stored snapshot is written back verbatim; a creation entry (no snapshot)
// is undone by superseding the current override.
func (h *ChangeLogHandler) restoreOverride(ctx context.Context, entry *changelog.Entry) error {
	var undo overrideUndo
	if err := json.Unmarshal(entry.UndoData, &undo); err != nil {
		return err
	}

	if undo.Override != nil {
		restored := *undo.Override
		restored.SupersededBy = ""
		restored.LastModified = time.Now().UTC()
		return h.overrides.Save(ctx, &restored)
	}

	current, err := h.overrides.GetByTemplate(ctx, undo.TemplateID)
	if err != nil {
		if errors.Is(err, override.ErrNotFound) {
			return nil
		}
		return err
	}
	current.SupersededBy = "undo:" + entry.ID
	current.LastModified = time.Now().UTC()
	return h.overrides.Save(ctx, current)
}
