package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/api/middleware"
	"github.com/zorgflow/carepath/internal/domain/notification"
)

// NotificationHandler serves the practice notification feed.
type NotificationHandler struct {
	feed   *notification.Feed
	logger *zap.Logger
}

// NewNotificationHandler creates a new handler.
func NewNotificationHandler(feed *notification.Feed, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{feed: feed, logger: logger}
}

// Routes returns the handler routes.
func (h *NotificationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/{id}/read", h.MarkRead)
	r.Post("/read-all", h.MarkAllRead)
	return r
}

// List handles GET /notifications. The feed is filtered to the caller's
// role; expired entries never appear.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := h.feed.For(ctx, middleware.GetRole(ctx))
	if err != nil {
		jsonError(w, "failed to load notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// MarkRead handles POST /notifications/{id}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.feed.MarkRead(ctx, id, middleware.GetUser(ctx)); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			jsonError(w, "notification not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to mark notification read", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read", "id": id})
}

// MarkAllRead handles POST /notifications/read-all.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.feed.MarkAllRead(ctx, middleware.GetUser(ctx), middleware.GetRole(ctx)); err != nil {
		jsonError(w, "failed to mark notifications read", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "all_read"})
}
