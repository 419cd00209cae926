package rlm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HeuristicSummarizer condenses a period without any language model: the
// summary names the item count and period start. It keeps the grouping and
// replacement machinery exercisable when no text-generation backend is
// configured.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, _ Layer, periodStart time.Time, entries []Entry) (string, error) {
	return fmt.Sprintf("Summary of %d items from %s", len(entries), periodStart.Format("2006-01-02")), nil
}

// FormatEntriesForSummary renders a group of entries as prompt input for a
// model-backed summarizer. Items carry their event type, summaries only
// their text.
func FormatEntriesForSummary(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Kind() {
		case KindItem:
			item := e.(*Item)
			parts = append(parts, fmt.Sprintf("[%s] %s", item.EventType, item.Text))
		case KindSummary:
			parts = append(parts, e.Content())
		}
	}
	return strings.Join(parts, "\n")
}
