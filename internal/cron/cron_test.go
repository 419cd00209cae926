package cron

import (
	"context"
	"testing"
	"time"

	"github.com/dirsoul/dirsoul/internal/config"
	"github.com/dirsoul/dirsoul/internal/rlm"
)

type fakeSource struct {
	events map[string][]rlm.TimelineEvent
	calls  int
}

func (f *fakeSource) Timeline(_ context.Context, _ string, _, _ time.Time) (map[string][]rlm.TimelineEvent, error) {
	f.calls++
	return f.events, nil
}

func testEvents() map[string][]rlm.TimelineEvent {
	return map[string][]rlm.TimelineEvent{
		"2026-03-01": {
			{
				EventID:   "ev-1",
				Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
				Action:    "ate",
				Target:    "apples",
			},
			{
				EventID:   "ev-2",
				Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Action:    "ran",
			},
		},
	}
}

func newTestService(source *fakeSource) (*Service, *rlm.Manager) {
	mgr := rlm.NewManager(source)
	svc := NewService(config.ContextConfig{Days: 7}, mgr, rlm.HeuristicSummarizer{})
	return svc, mgr
}

func TestNewService_Defaults(t *testing.T) {
	svc, _ := newTestService(&fakeSource{})

	if svc.refreshExpr != config.DefaultRefreshSchedule {
		t.Errorf("refresh expr = %q, want default", svc.refreshExpr)
	}
	if svc.summarizeExpr != config.DefaultSummarizeSchedule {
		t.Errorf("summarize expr = %q, want default", svc.summarizeExpr)
	}
	if svc.days != 7 {
		t.Errorf("days = %d, want 7", svc.days)
	}
}

func TestService_StartStop(t *testing.T) {
	svc, _ := newTestService(&fakeSource{})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	svc.Stop()
}

func TestService_Start_InvalidSchedule(t *testing.T) {
	mgr := rlm.NewManager(&fakeSource{})
	svc := NewService(config.ContextConfig{
		RefreshSchedule: "not a cron expr",
	}, mgr, rlm.HeuristicSummarizer{})

	if err := svc.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestService_RefreshAll(t *testing.T) {
	source := &fakeSource{events: testEvents()}
	svc, mgr := newTestService(source)

	mgr.BuildContextFromTimeline(context.Background(), "u1", 7, false)
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want 1", source.calls)
	}

	// Refresh forces a rebuild even though the raw layer is populated.
	svc.RefreshAll(context.Background())
	if source.calls != 2 {
		t.Errorf("source calls after refresh = %d, want 2", source.calls)
	}
}

func TestService_RefreshAll_NoUsers(t *testing.T) {
	source := &fakeSource{events: testEvents()}
	svc, _ := newTestService(source)

	svc.RefreshAll(context.Background())
	if source.calls != 0 {
		t.Errorf("source calls = %d, want 0 with no registered users", source.calls)
	}
}

func TestService_SummarizeAll(t *testing.T) {
	source := &fakeSource{events: testEvents()}
	svc, mgr := newTestService(source)
	mgr.BuildContextFromTimeline(context.Background(), "u1", 7, false)

	svc.SummarizeAll(context.Background())

	info := mgr.Info("u1")
	for _, layer := range []string{"day", "week", "month", "year"} {
		if info.Layers[layer].Count != 1 {
			t.Errorf("%s layer count = %d, want 1", layer, info.Layers[layer].Count)
		}
	}
}

func TestService_Stop_NotStarted(t *testing.T) {
	svc, _ := newTestService(&fakeSource{})
	// Must not panic before Start.
	svc.Stop()
}
