package rlm

import "time"

// EntryKind tags the two entry variants that flow through a layer.
// Code must branch on the tag, never on structural guessing.
type EntryKind int

const (
	KindItem EntryKind = iota
	KindSummary
)

// Entry is the shared view of the Item/Summary tagged union.
type Entry interface {
	Kind() EntryKind
	Timestamp() time.Time
	Content() string
	TokenCount() int
	Metadata() map[string]any
}

// Item is a single recorded occurrence. Immutable once created; it leaves
// the store only through capacity eviction or an explicit clear.
type Item struct {
	When      time.Time
	Text      string
	EventType string
	Meta      map[string]any
	Tokens    int
}

func (it *Item) Kind() EntryKind          { return KindItem }
func (it *Item) Timestamp() time.Time     { return it.When }
func (it *Item) Content() string          { return it.Text }
func (it *Item) TokenCount() int          { return it.Tokens }
func (it *Item) Metadata() map[string]any { return it.Meta }

// Summary is a synthesized aggregate covering one calendar period at a
// given layer. Its timestamp is the period start.
type Summary struct {
	Layer  Layer
	When   time.Time
	Text   string
	Meta   map[string]any
	Tokens int
}

func (s *Summary) Kind() EntryKind          { return KindSummary }
func (s *Summary) Timestamp() time.Time     { return s.When }
func (s *Summary) Content() string          { return s.Text }
func (s *Summary) TokenCount() int          { return s.Tokens }
func (s *Summary) Metadata() map[string]any { return s.Meta }
