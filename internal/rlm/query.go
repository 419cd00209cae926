package rlm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	noContextAnswer = "I don't have any relevant memories to answer that question."
	noMatchAnswer   = "I found some memories but couldn't determine a specific answer. Try rephrasing your question."
	answerPreamble  = "Based on your memories, here's what I found:\n"

	// Confidence is fixed per answer path, not computed from relevance.
	confidenceNone      = 0.0
	confidenceKeyword   = 0.5
	confidenceDelegated = 0.7

	defaultQueryTokens = 4000

	keywordScanLimit  = 10
	keywordReplyLimit = 5
)

// Answerer synthesizes an answer from a question and formatted context.
type Answerer interface {
	Answer(ctx context.Context, question, formattedContext string) (string, error)
}

// QueryOptions tune a single query.
type QueryOptions struct {
	// MaxTokens caps the combined token estimate of retrieved context.
	// Zero means the 4000-token default.
	MaxTokens int
	// StartDate/EndDate filter entries to an inclusive timestamp range.
	StartDate *time.Time
	EndDate   *time.Time
	// Answerer, when set, is delegated the final synthesis. When nil the
	// engine falls back to local keyword matching.
	Answerer Answerer
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	Answer         string
	ContextUsed    []Entry
	TokensUsed     int
	LayersAccessed []Layer
	Confidence     float64
	Metadata       map[string]any
}

// QueryStats are running statistics across an engine's lifetime.
type QueryStats struct {
	TotalQueries int
	LayersUsed   []Layer
	AvgTokens    float64
}

// QueryEngine executes budgeted queries against one user's context store
// and keeps running statistics. It shares the store's lifetime.
type QueryEngine struct {
	store *ContextStore
	stats QueryStats
}

func NewQueryEngine(store *ContextStore) *QueryEngine {
	return &QueryEngine{store: store}
}

// Query retrieves budgeted context and produces an answer.
//
// With no matching context the result is a fixed "no memories" answer at
// zero confidence. With an Answerer configured, synthesis is delegated and
// confidence fixed at 0.7; otherwise a keyword scan over the context
// produces the answer at 0.5. An Answerer failure degrades to the keyword
// path rather than surfacing the error.
func (q *QueryEngine) Query(ctx context.Context, question string, opts QueryOptions) *QueryResult {
	q.stats.TotalQueries++

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultQueryTokens
	}

	entries := q.store.ContextForQuery(maxTokens, opts.StartDate, opts.EndDate)
	if len(entries) == 0 {
		return &QueryResult{
			Answer:     noContextAnswer,
			Confidence: confidenceNone,
			Metadata:   map[string]any{"reason": "no_context"},
		}
	}

	tokensUsed := 0
	for _, e := range entries {
		if t := e.TokenCount(); t > 0 {
			tokensUsed += t
		} else {
			tokensUsed += EstimateTokens(e.Content())
		}
	}

	layersAccessed := accessedLayers(entries)

	var answer string
	var confidence float64
	if opts.Answerer != nil {
		text, err := opts.Answerer.Answer(ctx, question, FormatContext(entries))
		if err != nil {
			log.Printf("[rlm] delegated answer failed, falling back to keyword match: %v", err)
			answer = q.answerByKeywords(question, entries)
			confidence = confidenceKeyword
		} else {
			answer = text
			confidence = confidenceDelegated
		}
	} else {
		answer = q.answerByKeywords(question, entries)
		confidence = confidenceKeyword
	}

	q.stats.LayersUsed = append(q.stats.LayersUsed, layersAccessed...)
	q.stats.AvgTokens = q.stats.AvgTokens +
		(float64(tokensUsed)-q.stats.AvgTokens)/float64(q.stats.TotalQueries)

	return &QueryResult{
		Answer:         answer,
		ContextUsed:    entries,
		TokensUsed:     tokensUsed,
		LayersAccessed: layersAccessed,
		Confidence:     confidence,
		Metadata: map[string]any{
			"items_count": len(entries),
			"timestamp":   time.Now().Format(time.RFC3339),
		},
	}
}

// accessedLayers dedups the layer tags of summary entries, in first-seen
// order. A result of raw items only reports the raw layer.
func accessedLayers(entries []Entry) []Layer {
	var layers []Layer
	seen := make(map[Layer]bool)
	for _, e := range entries {
		if e.Kind() != KindSummary {
			continue
		}
		s := e.(*Summary)
		if !seen[s.Layer] {
			seen[s.Layer] = true
			layers = append(layers, s.Layer)
		}
	}
	if len(layers) == 0 {
		layers = []Layer{LayerRaw}
	}
	return layers
}

// answerByKeywords scans the first entries of the context for question
// terms and formats the matches as dated bullet lines.
func (q *QueryEngine) answerByKeywords(question string, entries []Entry) string {
	terms := strings.Fields(strings.ToLower(question))

	scan := entries
	if len(scan) > keywordScanLimit {
		scan = scan[:keywordScanLimit]
	}

	var matched []Entry
	for _, e := range scan {
		content := strings.ToLower(e.Content())
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched = append(matched, e)
				break
			}
		}
	}

	if len(matched) == 0 {
		return noMatchAnswer
	}
	if len(matched) > keywordReplyLimit {
		matched = matched[:keywordReplyLimit]
	}

	lines := []string{answerPreamble}
	for _, e := range matched {
		date := e.Timestamp().Format("2006-01-02")
		if e.Kind() == KindSummary {
			lines = append(lines, fmt.Sprintf("• %s (summary): %s", date, e.Content()))
		} else {
			lines = append(lines, fmt.Sprintf("• %s: %s", date, e.Content()))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatContext renders entries as input for a text-generation backend.
func FormatContext(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Kind() {
		case KindItem:
			item := e.(*Item)
			parts = append(parts, fmt.Sprintf("[%s] %s: %s",
				item.When.Format("2006-01-02 15:04"), item.EventType, item.Text))
		case KindSummary:
			parts = append(parts, fmt.Sprintf("[%s Summary] %s",
				e.Timestamp().Format("2006-01-02"), e.Content()))
		}
	}
	return strings.Join(parts, "\n")
}

// Stats returns a snapshot of the running statistics.
func (q *QueryEngine) Stats() QueryStats {
	snapshot := q.stats
	snapshot.LayersUsed = append([]Layer(nil), q.stats.LayersUsed...)
	return snapshot
}

// ResetStats zeroes the running statistics.
func (q *QueryEngine) ResetStats() {
	q.stats = QueryStats{}
}
