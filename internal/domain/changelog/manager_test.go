package changelog_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zorgflow/carepath/internal/domain/changelog"
	"github.com/zorgflow/carepath/internal/domain/pathway"
	"github.com/zorgflow/carepath/internal/infrastructure/memory"
)

func newManager(now time.Time) *changelog.Manager {
	m := changelog.NewManager(memory.NewChangeLogRepository(), nil)
	return m.WithClock(func() time.Time { return now })
}

func logInput(user string) changelog.LogInput {
	return changelog.LogInput{
		UserID:        user,
		UserName:      user,
		ChangeType:    changelog.TypePathwayOverride,
		Name:          "HbA1c interval",
		Description:   "Stretched the monitoring interval",
		Justification: "Stable patient population",
		Impact:        changelog.ImpactData{RiskAssessment: pathway.RiskMedium, TotalAffected: 12},
		UndoData:      json.RawMessage(`{"template_id":"nhg-t2dm-default"}`),
	}
}

func TestLogChangeAndHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := newManager(now)

	entry, err := m.LogChange(ctx, logInput("nurse.devries"))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != changelog.StatusApplied {
		t.Errorf("status = %s, want applied", entry.Status)
	}
	if !entry.CanUndo {
		t.Error("entry with undo data should be undoable")
	}

	if _, err := m.LogChange(ctx, logInput("dr.jansen")); err != nil {
		t.Fatal(err)
	}

	all, err := m.History(ctx, changelog.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("history length = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].UserID != "dr.jansen" {
		t.Errorf("newest entry user = %s", all[0].UserID)
	}

	byUser, err := m.History(ctx, changelog.Filter{UserID: "nurse.devries"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 1 {
		t.Errorf("filtered history length = %d, want 1", len(byUser))
	}

	bySearch, err := m.History(ctx, changelog.Filter{Search: "monitoring"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySearch) != 2 {
		t.Errorf("search hit %d entries, want 2", len(bySearch))
	}
}

func TestUndoChange(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := newManager(now)

	entry, err := m.LogChange(ctx, logInput("nurse.devries"))
	if err != nil {
		t.Fatal(err)
	}

	executed := false
	undone, err := m.UndoChange(ctx, entry.ID, "dr.jansen", "interval too long", func(ctx context.Context, e *changelog.Entry) error {
		executed = true
		if string(e.UndoData) != `{"template_id":"nhg-t2dm-default"}` {
			t.Errorf("unexpected undo data: %s", e.UndoData)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !executed {
		t.Error("executor was not invoked")
	}
	if undone.Status != changelog.StatusUndone || undone.UndoneBy != "dr.jansen" {
		t.Errorf("undone entry = %+v", undone)
	}

	// A second undo of the same entry fails.
	if _, err := m.UndoChange(ctx, entry.ID, "dr.jansen", "again", nil); !errors.Is(err, changelog.ErrNotApplied) {
		t.Errorf("expected ErrNotApplied, got %v", err)
	}
}

func TestUndoWindowExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := newManager(now)

	entry, err := m.LogChange(ctx, logInput("nurse.devries"))
	if err != nil {
		t.Fatal(err)
	}

	// Move the clock past the 24h window.
	m.WithClock(func() time.Time { return now.Add(25 * time.Hour) })
	if _, err := m.UndoChange(ctx, entry.ID, "dr.jansen", "too late", nil); !errors.Is(err, changelog.ErrUndoWindowClosed) {
		t.Errorf("expected ErrUndoWindowClosed, got %v", err)
	}

	undoable, err := m.UndoableChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(undoable) != 0 {
		t.Errorf("expired entry should not be listed as undoable, got %d", len(undoable))
	}
}

func TestUndoWithoutUndoData(t *testing.T) {
	ctx := context.Background()
	m := newManager(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	in := logInput("nurse.devries")
	in.UndoData = nil
	entry, err := m.LogChange(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if entry.CanUndo {
		t.Error("entry without undo data must not be undoable")
	}
	if _, err := m.UndoChange(ctx, entry.ID, "dr.jansen", "impossible", nil); !errors.Is(err, changelog.ErrNotUndoable) {
		t.Errorf("expected ErrNotUndoable, got %v", err)
	}
}

func TestUndoExecutorFailure(t *testing.T) {
	ctx := context.Background()
	m := newManager(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	entry, err := m.LogChange(ctx, logInput("nurse.devries"))
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("store unavailable")
	if _, err := m.UndoChange(ctx, entry.ID, "dr.jansen", "revert", func(context.Context, *changelog.Entry) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected executor error, got %v", err)
	}

	all, err := m.History(ctx, changelog.Filter{Status: changelog.StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("failed undo should flip the entry to failed, got %d failed entries", len(all))
	}
}

func TestUndoUnknownEntry(t *testing.T) {
	m := newManager(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if _, err := m.UndoChange(context.Background(), "missing", "dr.jansen", "", nil); !errors.Is(err, changelog.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m := newManager(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	if _, err := m.LogChange(ctx, logInput("nurse.devries")); err != nil {
		t.Fatal(err)
	}
	high := logInput("dr.jansen")
	high.Impact.RiskAssessment = pathway.RiskCritical
	if _, err := m.LogChange(ctx, high); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.TotalAffected != 24 {
		t.Errorf("total affected = %d, want 24", stats.TotalAffected)
	}
	// medium(2) + critical(4) averages to 3.0 and buckets to high.
	if stats.AverageRisk != pathway.RiskHigh {
		t.Errorf("average risk = %s, want high", stats.AverageRisk)
	}
	if stats.ByUser["nurse.devries"] != 1 {
		t.Errorf("by user = %v", stats.ByUser)
	}
}

func TestStatsIgnoresUnratedRisk(t *testing.T) {
	ctx := context.Background()
	m := newManager(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	// Entries logged without an impact analysis carry no risk verdict.
	for _, user := range []string{"nurse.devries", "assistant.koek"} {
		in := logInput(user)
		in.Impact.RiskAssessment = ""
		if _, err := m.LogChange(ctx, in); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.LogChange(ctx, logInput("dr.jansen")); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The single rated entry is medium; the unrated ones must not pull the
	// average toward low.
	if stats.AverageRisk != pathway.RiskMedium {
		t.Errorf("average risk = %s, want medium", stats.AverageRisk)
	}
}
