package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zorgflow/carepath/internal/domain/pathway"
)

// UndoExecutor reverses a change by replaying its undo data. A returned
// error marks the entry failed and is re-raised to the caller.
type UndoExecutor func(ctx context.Context, entry *Entry) error

// Manager owns the change history collection. All operations read the full
// collection, apply the change, and write it back, matching the store's
// single-writer read-modify-write contract.
type Manager struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a history manager.
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

// LogInput carries the fields of a new history entry.
type LogInput struct {
	UserID        string
	UserName      string
	ChangeType    ChangeType
	Name          string
	Description   string
	Justification string
	Impact        ImpactData
	BeforeState   json.RawMessage
	AfterState    json.RawMessage
	UndoData      json.RawMessage
}

// LogChange prepends a new applied entry, evicting the oldest past the cap.
func (m *Manager) LogChange(ctx context.Context, in LogInput) (*Entry, error) {
	entries, err := m.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	entry := Entry{
		ID:            uuid.New().String(),
		Timestamp:     m.now(),
		UserID:        in.UserID,
		UserName:      in.UserName,
		ChangeType:    in.ChangeType,
		Name:          in.Name,
		Description:   in.Description,
		Justification: in.Justification,
		Impact:        in.Impact,
		BeforeState:   in.BeforeState,
		AfterState:    in.AfterState,
		CanUndo:       len(in.UndoData) > 0,
		UndoData:      in.UndoData,
		Status:        StatusApplied,
	}

	entries = append([]Entry{entry}, entries...)
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	if err := m.repo.SaveAll(ctx, entries); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}

	m.logger.Info("change logged",
		zap.String("id", entry.ID),
		zap.String("type", string(entry.ChangeType)),
		zap.String("user", entry.UserID))
	return &entry, nil
}

// UndoChange reverses an applied, undoable entry inside the 24h window. On
// executor failure the entry flips to failed and the error is returned.
func (m *Manager) UndoChange(ctx context.Context, id, undoneBy, reason string, exec UndoExecutor) (*Entry, error) {
	entries, err := m.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrEntryNotFound
	}
	entry := &entries[idx]

	if entry.Status != StatusApplied {
		return nil, ErrNotApplied
	}
	if !entry.CanUndo {
		return nil, ErrNotUndoable
	}
	if m.now().Sub(entry.Timestamp) > UndoWindow {
		return nil, ErrUndoWindowClosed
	}

	if exec != nil {
		if execErr := exec(ctx, entry); execErr != nil {
			entry.Status = StatusFailed
			if saveErr := m.repo.SaveAll(ctx, entries); saveErr != nil {
				m.logger.Error("failed to persist failed undo", zap.Error(saveErr))
			}
			return nil, fmt.Errorf("undo execution: %w", execErr)
		}
	}

	now := m.now()
	entry.Status = StatusUndone
	entry.UndoneAt = &now
	entry.UndoneBy = undoneBy
	entry.UndoReason = reason

	if err := m.repo.SaveAll(ctx, entries); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}

	m.logger.Info("change undone",
		zap.String("id", entry.ID),
		zap.String("by", undoneBy))
	result := *entry
	return &result, nil
}

// UndoableChanges lists applied, undoable entries still inside the window.
func (m *Manager) UndoableChanges(ctx context.Context) ([]Entry, error) {
	entries, err := m.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	now := m.now()
	var out []Entry
	for _, e := range entries {
		if e.Status == StatusApplied && e.CanUndo && now.Sub(e.Timestamp) <= UndoWindow {
			out = append(out, e)
		}
	}
	return out, nil
}

// History returns entries matching the filter, newest first.
func (m *Manager) History(ctx context.Context, f Filter) ([]Entry, error) {
	entries, err := m.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matches(e Entry, f Filter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ChangeType != "" && e.ChangeType != f.ChangeType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		haystack := strings.ToLower(e.Name + " " + e.Description + " " + e.Justification + " " + e.UserName)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// Stats aggregates counts by type, user and status, the affected-patient
// total, and an average risk bucket (risk mapped low=1..critical=4,
// averaged over rated entries, re-bucketed at 3.5/2.5/1.5).
func (m *Manager) Stats(ctx context.Context) (*Statistics, error) {
	entries, err := m.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	stats := &Statistics{
		Total:    len(entries),
		ByType:   make(map[ChangeType]int),
		ByUser:   make(map[string]int),
		ByStatus: make(map[EntryStatus]int),
	}
	riskSum, ranked := 0, 0
	for _, e := range entries {
		stats.ByType[e.ChangeType]++
		stats.ByUser[e.UserID]++
		stats.ByStatus[e.Status]++
		stats.TotalAffected += e.Impact.TotalAffected
		// Entries without an impact analysis carry no risk verdict; they
		// must not drag the average toward zero.
		if rank := e.Impact.RiskAssessment.Rank(); rank > 0 {
			riskSum += rank
			ranked++
		}
	}
	stats.AverageRisk = pathway.RiskLow
	if ranked > 0 {
		avg := float64(riskSum) / float64(ranked)
		switch {
		case avg >= 3.5:
			stats.AverageRisk = pathway.RiskCritical
		case avg >= 2.5:
			stats.AverageRisk = pathway.RiskHigh
		case avg >= 1.5:
			stats.AverageRisk = pathway.RiskMedium
		}
	}
	return stats, nil
}
