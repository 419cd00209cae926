package rlm

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimelineDays is how far back context building fetches events when
// the caller does not say otherwise.
const DefaultTimelineDays = 30

// TimelineEvent is one record from the event-source collaborator.
type TimelineEvent struct {
	EventID    string
	Timestamp  time.Time
	Action     string
	Actor      string
	Target     string
	Quantity   *float64
	Unit       string
	Confidence float64
}

// EventSource fetches a user's timeline as an ordered sequence of events
// per date. Implemented outside the core (HTTP client to the backend).
type EventSource interface {
	Timeline(ctx context.Context, userID string, start, end time.Time) (map[string][]TimelineEvent, error)
}

// Manager is the per-process registry of context stores and query engines,
// keyed by user id. Entries are created lazily and live until explicitly
// cleared; the registry itself never evicts.
//
// The registry map is mutex-guarded so different users can be served from
// different goroutines. Operations against a single user's store are not
// synchronized and need external serialization if called concurrently.
type Manager struct {
	source EventSource

	mu       sync.Mutex
	contexts map[string]*ContextStore
	engines  map[string]*QueryEngine
}

func NewManager(source EventSource) *Manager {
	return &Manager{
		source:   source,
		contexts: make(map[string]*ContextStore),
		engines:  make(map[string]*QueryEngine),
	}
}

// lookup returns the user's store and engine, creating both on first use.
func (m *Manager) lookup(userID string) (*ContextStore, *QueryEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.contexts[userID]
	if !ok {
		store = NewContextStore(userID)
		m.contexts[userID] = store
		m.engines[userID] = NewQueryEngine(store)
	}
	return store, m.engines[userID]
}

// Users lists the user ids with a registered context.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// BuildContextFromTimeline fetches the user's last-N-days timeline and
// ingests every event into the raw layer, in arrival order. Returns the
// number of events ingested.
//
// If the raw layer was already populated and forceRefresh is false, the
// build is skipped. A fetch failure is logged and reported as zero events;
// no state changes. Events already ingested stay in place regardless of
// later failures (no rollback).
func (m *Manager) BuildContextFromTimeline(ctx context.Context, userID string, days int, forceRefresh bool) int {
	store, _ := m.lookup(userID)

	if _, built := store.LastUpdated(LayerRaw); built && !forceRefresh {
		log.Printf("[rlm] context already exists for user %s, skipping build", userID)
		return 0
	}

	if days <= 0 {
		days = DefaultTimelineDays
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	log.Printf("[rlm] building context for user %s from last %d days", userID, days)

	eventsByDate, err := m.source.Timeline(ctx, userID, start, end)
	if err != nil {
		log.Printf("[rlm] failed to fetch timeline for user %s: %v", userID, err)
		return 0
	}

	// Map iteration order is unspecified; walk dates sorted so repeated
	// builds ingest (and therefore evict) in the same order.
	dates := make([]string, 0, len(eventsByDate))
	for date := range eventsByDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	count := 0
	for _, date := range dates {
		for _, ev := range eventsByDate[date] {
			content := formatEventContent(ev)
			store.AddRawEvent(&Item{
				When:      ev.Timestamp,
				Text:      content,
				EventType: eventType(ev),
				Tokens:    EstimateTokens(content),
				Meta: map[string]any{
					"event_id":   ev.EventID,
					"actor":      ev.Actor,
					"target":     ev.Target,
					"quantity":   ev.Quantity,
					"confidence": ev.Confidence,
				},
			})
			count++
		}
	}

	log.Printf("[rlm] built context with %d events for user %s", count, userID)
	m.generateSummaries(userID)
	return count
}

// generateSummaries is the ingestion-time summarization trigger. Periodic
// summarization runs through SummarizeAll on a schedule instead, so this
// stays a no-op on the ingestion path.
func (m *Manager) generateSummaries(userID string) {
	log.Printf("[rlm] deferring layer summarization for user %s to the scheduler", userID)
}

// SummarizeAll rebuilds every summary layer for a user, most detailed
// first, so each layer condenses the freshly rebuilt layer below it.
func (m *Manager) SummarizeAll(ctx context.Context, userID string, summarizer Summarizer) error {
	store, _ := m.lookup(userID)
	for _, layer := range []Layer{LayerDay, LayerWeek, LayerMonth, LayerYear} {
		if _, err := store.SummarizeLayer(ctx, layer, summarizer); err != nil {
			return err
		}
	}
	return nil
}

// Query answers a question from the user's context, building the context
// from the timeline first if it was never populated.
func (m *Manager) Query(ctx context.Context, userID, question string, opts QueryOptions) *QueryResult {
	store, engine := m.lookup(userID)

	if _, built := store.LastUpdated(LayerRaw); !built {
		log.Printf("[rlm] auto-building context for user %s", userID)
		m.BuildContextFromTimeline(ctx, userID, DefaultTimelineDays, false)
	}

	return engine.Query(ctx, question, opts)
}

// LayerInfo describes one layer's fill level.
type LayerInfo struct {
	Count    int
	Capacity int
}

// ContextInfo is an introspection snapshot of one user's context.
type ContextInfo struct {
	UserID      string
	Layers      map[string]LayerInfo
	LastUpdated map[string]time.Time
	Stats       QueryStats
}

// Info reports per-layer counts and capacities plus query statistics.
func (m *Manager) Info(userID string) ContextInfo {
	store, engine := m.lookup(userID)

	info := ContextInfo{
		UserID:      userID,
		Layers:      make(map[string]LayerInfo, len(Layers)),
		LastUpdated: make(map[string]time.Time),
		Stats:       engine.Stats(),
	}
	for _, layer := range Layers {
		info.Layers[layer.String()] = LayerInfo{
			Count:    len(store.LayerEntries(layer)),
			Capacity: layer.Capacity(),
		}
		if t, ok := store.LastUpdated(layer); ok {
			info.LastUpdated[layer.String()] = t
		}
	}
	return info
}

// ClearContext drops the user's registry entry entirely. The next access
// starts from an empty store.
func (m *Manager) ClearContext(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.contexts, userID)
	delete(m.engines, userID)
	log.Printf("[rlm] cleared context for user %s", userID)
}

// formatEventContent renders an event as readable text:
// "<actor> <action> <target> <quantity> <unit>", omitting absent parts.
func formatEventContent(ev TimelineEvent) string {
	actor := ev.Actor
	if actor == "" {
		actor = "You"
	}
	action := ev.Action
	if action == "" {
		action = "did something"
	}

	parts := []string{actor, action}
	if ev.Target != "" {
		parts = append(parts, ev.Target)
	}
	if ev.Quantity != nil {
		parts = append(parts, strconv.FormatFloat(*ev.Quantity, 'f', -1, 64))
		if ev.Unit != "" {
			parts = append(parts, ev.Unit)
		}
	}
	return strings.Join(parts, " ")
}

func eventType(ev TimelineEvent) string {
	if ev.Action == "" {
		return "unknown"
	}
	return ev.Action
}
