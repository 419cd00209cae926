package rlm

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeEventSource struct {
	events map[string][]TimelineEvent
	err    error
	calls  int
}

func (f *fakeEventSource) Timeline(_ context.Context, _ string, _, _ time.Time) (map[string][]TimelineEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func floatPtr(v float64) *float64 { return &v }

func sampleEvents() map[string][]TimelineEvent {
	return map[string][]TimelineEvent{
		"2026-03-01": {
			{
				EventID:    "ev-1",
				Timestamp:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
				Action:     "ate",
				Target:     "apples",
				Quantity:   floatPtr(2),
				Unit:       "pieces",
				Confidence: 0.9,
			},
			{
				EventID:   "ev-2",
				Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Action:    "ran",
				Quantity:  floatPtr(5),
				Unit:      "km",
			},
		},
		"2026-03-02": {
			{
				EventID:   "ev-3",
				Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				Actor:     "Alice",
				Action:    "called",
			},
		},
	}
}

func TestBuildContextFromTimeline(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)

	count := m.BuildContextFromTimeline(context.Background(), "u1", 30, false)
	if count != 3 {
		t.Fatalf("ingested %d events, want 3", count)
	}

	store, _ := m.lookup("u1")
	raw := store.LayerEntries(LayerRaw)
	if len(raw) != 3 {
		t.Fatalf("raw layer holds %d entries, want 3", len(raw))
	}

	first := raw[0].(*Item)
	if first.Text != "You ate apples 2 pieces" {
		t.Errorf("formatted content = %q, want \"You ate apples 2 pieces\"", first.Text)
	}
	if first.EventType != "ate" {
		t.Errorf("event type = %q, want ate", first.EventType)
	}
	if first.Meta["event_id"] != "ev-1" {
		t.Errorf("event_id metadata = %v, want ev-1", first.Meta["event_id"])
	}
	if first.Tokens != EstimateTokens(first.Text) {
		t.Errorf("token estimate = %d, want %d", first.Tokens, EstimateTokens(first.Text))
	}

	third := raw[2].(*Item)
	if third.Text != "Alice called" {
		t.Errorf("third content = %q, want \"Alice called\"", third.Text)
	}
}

func TestBuildContextFromTimeline_IdempotentGuard(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)

	if count := m.BuildContextFromTimeline(context.Background(), "u1", 30, false); count != 3 {
		t.Fatalf("first build ingested %d, want 3", count)
	}
	if count := m.BuildContextFromTimeline(context.Background(), "u1", 30, false); count != 0 {
		t.Errorf("second build ingested %d, want 0 (guarded)", count)
	}
	if source.calls != 1 {
		t.Errorf("source fetched %d times, want 1", source.calls)
	}

	if count := m.BuildContextFromTimeline(context.Background(), "u1", 30, true); count != 3 {
		t.Errorf("forced rebuild ingested %d, want 3", count)
	}
	if source.calls != 2 {
		t.Errorf("source fetched %d times after force, want 2", source.calls)
	}
}

func TestBuildContextFromTimeline_FetchFailure(t *testing.T) {
	source := &fakeEventSource{err: fmt.Errorf("backend down")}
	m := NewManager(source)

	if count := m.BuildContextFromTimeline(context.Background(), "u1", 30, false); count != 0 {
		t.Errorf("ingested %d on fetch failure, want 0", count)
	}

	store, _ := m.lookup("u1")
	if len(store.LayerEntries(LayerRaw)) != 0 {
		t.Error("raw layer mutated despite fetch failure")
	}
	if _, built := store.LastUpdated(LayerRaw); built {
		t.Error("raw last-updated stamped despite fetch failure")
	}
}

func TestManagerQuery_AutoBuild(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)

	result := m.Query(context.Background(), "u1", "apples", QueryOptions{})
	if source.calls != 1 {
		t.Errorf("source fetched %d times, want 1 (auto-build)", source.calls)
	}
	if result.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", result.Confidence)
	}
	if len(result.ContextUsed) == 0 {
		t.Error("expected context after auto-build")
	}

	// Second query must not rebuild.
	m.Query(context.Background(), "u1", "apples", QueryOptions{})
	if source.calls != 1 {
		t.Errorf("source fetched %d times after second query, want still 1", source.calls)
	}
}

func TestManager_SummarizeAll(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)
	m.BuildContextFromTimeline(context.Background(), "u1", 30, false)

	if err := m.SummarizeAll(context.Background(), "u1", HeuristicSummarizer{}); err != nil {
		t.Fatalf("SummarizeAll error: %v", err)
	}

	store, _ := m.lookup("u1")
	// 2026-03-01 is a Sunday and 2026-03-02 a Monday, so the two day
	// summaries straddle a week boundary — and the first week's Monday
	// (2026-02-23) falls in February, so the weeks also straddle a month.
	wantCounts := map[Layer]int{LayerDay: 2, LayerWeek: 2, LayerMonth: 2, LayerYear: 1}
	for layer, want := range wantCounts {
		if got := len(store.LayerEntries(layer)); got != want {
			t.Errorf("%s layer holds %d entries, want %d", layer, got, want)
		}
	}
}

func TestManager_Info(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)
	m.BuildContextFromTimeline(context.Background(), "u1", 30, false)

	info := m.Info("u1")
	if info.UserID != "u1" {
		t.Errorf("user id = %q, want u1", info.UserID)
	}
	if got := info.Layers["raw"]; got.Count != 3 || got.Capacity != 100 {
		t.Errorf("raw layer info = %+v, want count 3 capacity 100", got)
	}
	if got := info.Layers["year"]; got.Count != 0 || got.Capacity != 10 {
		t.Errorf("year layer info = %+v, want count 0 capacity 10", got)
	}
	if _, ok := info.LastUpdated["raw"]; !ok {
		t.Error("raw last-updated missing from info")
	}
}

func TestManager_ClearContext(t *testing.T) {
	source := &fakeEventSource{events: sampleEvents()}
	m := NewManager(source)
	m.BuildContextFromTimeline(context.Background(), "u1", 30, false)

	m.ClearContext("u1")
	if users := m.Users(); len(users) != 0 {
		t.Errorf("users after clear = %v, want none", users)
	}

	// Next build starts fresh rather than hitting the idempotent guard.
	if count := m.BuildContextFromTimeline(context.Background(), "u1", 30, false); count != 3 {
		t.Errorf("rebuild after clear ingested %d, want 3", count)
	}
}

func TestManager_Users(t *testing.T) {
	m := NewManager(&fakeEventSource{})
	m.lookup("bob")
	m.lookup("alice")

	users := m.Users()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("users = %v, want [alice bob]", users)
	}
}

func TestFormatEventContent(t *testing.T) {
	tests := []struct {
		name string
		ev   TimelineEvent
		want string
	}{
		{"full", TimelineEvent{Actor: "Alice", Action: "read", Target: "a book", Quantity: floatPtr(2), Unit: "hours"}, "Alice read a book 2 hours"},
		{"default actor", TimelineEvent{Action: "slept"}, "You slept"},
		{"default action", TimelineEvent{}, "You did something"},
		{"quantity without unit", TimelineEvent{Action: "ran", Quantity: floatPtr(5.5)}, "You ran 5.5"},
	}
	for _, tt := range tests {
		if got := formatEventContent(tt.ev); got != tt.want {
			t.Errorf("%s: formatEventContent = %q, want %q", tt.name, got, tt.want)
		}
	}
}
