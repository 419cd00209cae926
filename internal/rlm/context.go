package rlm

import (
	"context"
	"log"
	"strings"
	"time"
)

const (
	// defaultEntryTokens is charged against the budget for entries that
	// never had a token count estimated.
	defaultEntryTokens = 100

	// budgetStopRatio stops the layer walk once this share of the token
	// budget is spent.
	budgetStopRatio = 0.95
)

// Summarizer produces the text of one period summary. Text synthesis is
// delegated; grouping and replacement stay in the store.
type Summarizer interface {
	Summarize(ctx context.Context, layer Layer, periodStart time.Time, entries []Entry) (string, error)
}

// ContextStore holds one user's hierarchical context: per layer, an ordered
// sequence of items or summaries, plus a last-updated stamp per layer.
// All state is in-memory; a restart loses it. Not safe for concurrent use
// within one user without external synchronization.
type ContextStore struct {
	userID      string
	layers      map[Layer][]Entry
	lastUpdated map[Layer]time.Time
}

func NewContextStore(userID string) *ContextStore {
	layers := make(map[Layer][]Entry, len(Layers))
	for _, l := range Layers {
		layers[l] = nil
	}
	return &ContextStore{
		userID:      userID,
		layers:      layers,
		lastUpdated: make(map[Layer]time.Time),
	}
}

func (c *ContextStore) UserID() string { return c.userID }

// AddRawEvent appends an item to the raw layer, evicting the oldest
// entries once the layer exceeds its capacity.
func (c *ContextStore) AddRawEvent(item *Item) {
	raw := append(c.layers[LayerRaw], item)
	if limit := LayerRaw.Capacity(); len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	c.layers[LayerRaw] = raw
	c.lastUpdated[LayerRaw] = time.Now()
}

// ContextForQuery collects entries for a query under a token budget.
//
// Layers are scanned in priority order, raw first. Within a layer entries
// are taken in stored order, first-fit: the first entry that would push
// the running total past maxTokens ends that layer's scan. Once a finished
// layer leaves the total at or above 95% of the budget, lower-resolution
// layers are not consulted. The result is ordered by layer priority then
// insertion order, not globally chronological.
func (c *ContextStore) ContextForQuery(maxTokens int, start, end *time.Time) []Entry {
	var picked []Entry
	tokensUsed := 0

	for _, layer := range Layers {
		entries := c.layers[layer]
		if start != nil || end != nil {
			entries = filterByDate(entries, start, end)
		}

		for _, e := range entries {
			t := e.TokenCount()
			if t <= 0 {
				t = defaultEntryTokens
			}
			if tokensUsed+t > maxTokens {
				break
			}
			picked = append(picked, e)
			tokensUsed += t
		}

		if float64(tokensUsed) >= float64(maxTokens)*budgetStopRatio {
			break
		}
	}

	log.Printf("[rlm] retrieved %d context entries using %d tokens for user %s", len(picked), tokensUsed, c.userID)
	return picked
}

func filterByDate(entries []Entry, start, end *time.Time) []Entry {
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ts := e.Timestamp()
		if start != nil && ts.Before(*start) {
			continue
		}
		if end != nil && ts.After(*end) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// SummarizeLayer rebuilds target from the next more-detailed layer: source
// entries are grouped by calendar period at the target's granularity and
// each group is condensed into one summary via the summarizer. The whole
// target layer is replaced; nothing is overwritten if the summarizer fails.
//
// A target with no source layer (raw) or an empty source yields an empty
// result and leaves the target untouched.
func (c *ContextStore) SummarizeLayer(ctx context.Context, target Layer, summarizer Summarizer) ([]*Summary, error) {
	source, ok := sourceLayer(target)
	if !ok {
		log.Printf("[rlm] cannot summarize layer %s: no source layer", target)
		return nil, nil
	}

	entries := c.layers[source]
	if len(entries) == 0 {
		log.Printf("[rlm] skip summarizing %s for user %s: source layer %s is empty", target, c.userID, source)
		return nil, nil
	}

	periods, groups := groupByPeriod(entries, target)

	summaries := make([]*Summary, 0, len(periods))
	for _, period := range periods {
		group := groups[period.Unix()]
		text, err := summarizer.Summarize(ctx, target, period, group)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &Summary{
			Layer:  target,
			When:   period,
			Text:   text,
			Tokens: len(strings.Fields(text)),
			Meta: map[string]any{
				"item_count":   len(group),
				"source_layer": source.String(),
			},
		})
	}

	entriesForLayer := make([]Entry, len(summaries))
	for i, s := range summaries {
		entriesForLayer[i] = s
	}
	c.layers[target] = entriesForLayer
	c.lastUpdated[target] = time.Now()

	log.Printf("[rlm] summarized %d %s entries into %d %s summaries for user %s",
		len(entries), source, len(summaries), target, c.userID)
	return summaries, nil
}

// groupByPeriod buckets entries by the calendar period containing their
// timestamp. Periods come back in first-seen order, not sorted.
func groupByPeriod(entries []Entry, target Layer) ([]time.Time, map[int64][]Entry) {
	var periods []time.Time
	groups := make(map[int64][]Entry)

	for _, e := range entries {
		period := periodStart(e.Timestamp(), target)
		key := period.Unix()
		if _, seen := groups[key]; !seen {
			periods = append(periods, period)
		}
		groups[key] = append(groups[key], e)
	}
	return periods, groups
}

// periodStart truncates ts to the start of the calendar period at the
// target layer's granularity: midnight for day, Monday midnight for week,
// first of the month for month, January 1 for year.
func periodStart(ts time.Time, target Layer) time.Time {
	switch target {
	case LayerDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	case LayerWeek:
		daysSinceMonday := (int(ts.Weekday()) + 6) % 7
		monday := ts.AddDate(0, 0, -daysSinceMonday)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, ts.Location())
	case LayerMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location())
	case LayerYear:
		return time.Date(ts.Year(), time.January, 1, 0, 0, 0, 0, ts.Location())
	default:
		return ts
	}
}

// LayerEntries returns the stored sequence for one layer.
func (c *ContextStore) LayerEntries(layer Layer) []Entry {
	return c.layers[layer]
}

// LastUpdated reports when a layer was last written, if ever.
func (c *ContextStore) LastUpdated(layer Layer) (time.Time, bool) {
	t, ok := c.lastUpdated[layer]
	return t, ok
}

// EstimateTokens estimates the token count of text as one token per four
// characters. Deliberately model-independent.
func EstimateTokens(text string) int {
	return len(text) / 4
}
