// Package notification maintains the practice-wide alert feed driven by
// publication, review-request and deviation events.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// ErrNotFound indicates a missing feed entry.
var ErrNotFound = errors.New("notification not found")

// Kind classifies a feed entry.
type Kind string

const (
	KindPublication       Kind = "publication"
	KindReviewRequest     Kind = "review_request"
	KindCriticalDeviation Kind = "critical_deviation"
)

// Notification is one feed entry. Entries target roles, expire, and track
// per-user read state.
type Notification struct {
	ID          string               `json:"id"`
	Kind        Kind                 `json:"kind"`
	Severity    string               `json:"severity"`
	Title       pathway.Text         `json:"title"`
	Message     pathway.Text         `json:"message"`
	OverrideID  string               `json:"override_id,omitempty"`
	TargetRoles []pathway.Role       `json:"target_roles,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	ReadBy      map[string]time.Time `json:"read_by,omitempty"`
}

// TargetsRole reports whether the entry is visible to a role. An empty
// target list means practice-wide.
func (n *Notification) TargetsRole(role pathway.Role) bool {
	if len(n.TargetRoles) == 0 {
		return true
	}
	for _, r := range n.TargetRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsExpired reports whether the entry has lapsed.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// Repository persists the feed as one ordered collection, newest first.
type Repository interface {
	GetAll(ctx context.Context) ([]Notification, error)
	SaveAll(ctx context.Context, items []Notification) error
}

// maxEntries caps the feed; the oldest entries are evicted.
const maxEntries = 200

// defaultTTL is how long a feed entry stays visible.
const defaultTTL = 14 * 24 * time.Hour

// Feed manages the practice notification feed.
type Feed struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewFeed creates a feed manager.
func NewFeed(repo Repository, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the feed's clock, for tests.
func (f *Feed) WithClock(now func() time.Time) *Feed {
	f.now = now
	return f
}

// Publish prepends an entry, evicting past the cap.
func (f *Feed) Publish(ctx context.Context, n Notification) (*Notification, error) {
	items, err := f.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = f.now()
	if n.ExpiresAt == nil {
		expires := n.CreatedAt.Add(defaultTTL)
		n.ExpiresAt = &expires
	}

	items = append([]Notification{n}, items...)
	if len(items) > maxEntries {
		items = items[:maxEntries]
	}
	if err := f.repo.SaveAll(ctx, items); err != nil {
		return nil, fmt.Errorf("save feed: %w", err)
	}
	f.logger.Info("notification published",
		zap.String("id", n.ID),
		zap.String("kind", string(n.Kind)))
	return &n, nil
}

// For returns the unexpired feed visible to a role, newest first.
func (f *Feed) For(ctx context.Context, role pathway.Role) ([]Notification, error) {
	items, err := f.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	now := f.now()
	var out []Notification
	for _, n := range items {
		if n.IsExpired(now) || !n.TargetsRole(role) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead stamps a user's read time on one entry.
func (f *Feed) MarkRead(ctx context.Context, id, userID string) error {
	items, err := f.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if items[i].ReadBy == nil {
			items[i].ReadBy = make(map[string]time.Time)
		}
		items[i].ReadBy[userID] = f.now()
		return f.repo.SaveAll(ctx, items)
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

// MarkAllRead stamps a user's read time on every visible entry.
func (f *Feed) MarkAllRead(ctx context.Context, userID string, role pathway.Role) error {
	items, err := f.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	now := f.now()
	for i := range items {
		if !items[i].TargetsRole(role) || items[i].IsExpired(now) {
			continue
		}
		if items[i].ReadBy == nil {
			items[i].ReadBy = make(map[string]time.Time)
		}
		items[i].ReadBy[userID] = now
	}
	return f.repo.SaveAll(ctx, items)
}

// ForPublication builds the feed entry announcing a published override.
func ForPublication(overrideID, overrideName, publishedBy string) Notification {
	return Notification{
		Kind:       KindPublication,
		Severity:   "info",
		OverrideID: overrideID,
		Title: pathway.Text{
			NL: "Zorgpad gepubliceerd",
			EN: "Pathway published",
		},
		Message: pathway.Text{
			NL: fmt.Sprintf("%s is gepubliceerd door %s", overrideName, publishedBy),
			EN: fmt.Sprintf("%s was published by %s", overrideName, publishedBy),
		},
	}
}

// ForReviewRequest builds the feed entry asking physicians to review.
func ForReviewRequest(overrideID, overrideName, requestedBy string) Notification {
	return Notification{
		Kind:        KindReviewRequest,
		Severity:    "warning",
		OverrideID:  overrideID,
		TargetRoles: []pathway.Role{pathway.RoleGP},
		Title: pathway.Text{
			NL: "Beoordeling gevraagd",
			EN: "Review requested",
		},
		Message: pathway.Text{
			NL: fmt.Sprintf("%s wacht op beoordeling (aangevraagd door %s)", overrideName, requestedBy),
			EN: fmt.Sprintf("%s awaits review (requested by %s)", overrideName, requestedBy),
		},
	}
}

// ForCriticalDeviation builds the feed entry flagging a critical deviation.
func ForCriticalDeviation(overrideID, overrideName string, criticalCount int) Notification {
	return Notification{
		Kind:        KindCriticalDeviation,
		Severity:    "critical",
		OverrideID:  overrideID,
		TargetRoles: []pathway.Role{pathway.RoleGP, pathway.RolePracticeManager},
		Title: pathway.Text{
			NL: "Kritieke NHG-afwijking",
			EN: "Critical NHG deviation",
		},
		Message: pathway.Text{
			NL: fmt.Sprintf("%s bevat %d kritieke afwijking(en) van de NHG-standaard", overrideName, criticalCount),
			EN: fmt.Sprintf("%s contains %d critical deviation(s) from the NHG standard", overrideName, criticalCount),
		},
	}
}
