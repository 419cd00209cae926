// Package timeline is the HTTP client for the DirSoul backend API. It is
// the event-source collaborator of the rlm core and also backs the bot's
// record/stats/timeline commands.
package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dirsoul/dirsoul/internal/rlm"
)

const (
	// The backend speaks ISO timestamps without a zone suffix.
	isoLayout = "2006-01-02T15:04:05"

	defaultTimeout = 30 * time.Second
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// ChatResponse is the backend's reply to a recorded message.
type ChatResponse struct {
	Response         string `json:"response"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// Event is one timeline record as the backend serializes it.
type Event struct {
	EventID    string   `json:"event_id"`
	Timestamp  string   `json:"timestamp"`
	Action     string   `json:"action"`
	Actor      string   `json:"actor,omitempty"`
	Target     string   `json:"target,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Confidence float64  `json:"confidence"`
}

// TimelineResponse groups a user's events by date.
type TimelineResponse struct {
	EventsByDate map[string][]Event `json:"events_by_date"`
	TotalEvents  int                `json:"total_events"`
	Summary      string             `json:"summary,omitempty"`
}

// StatsResponse summarizes a user's recorded activity.
type StatsResponse struct {
	TotalEvents   int            `json:"total_events"`
	TotalEntities int            `json:"total_entities"`
	EventTypes    map[string]int `json:"event_types"`
	EventsPerDay  map[string]int `json:"events_per_day"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health checks the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	var out healthResponse
	if err := c.do(req, &out); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// SendChat records a message for the user and returns the backend's reply.
func (c *Client) SendChat(ctx context.Context, userID, message string) (*ChatResponse, error) {
	payload := map[string]any{
		"message": message,
		"user_id": userID,
		"history": []any{},
	}

	var out ChatResponse
	if err := c.post(ctx, "/api/chat", payload, &out); err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	return &out, nil
}

// FetchTimeline retrieves the user's events between two ISO timestamps.
func (c *Client) FetchTimeline(ctx context.Context, userID, startDate, endDate string) (*TimelineResponse, error) {
	payload := map[string]any{
		"user_id":    userID,
		"start_date": startDate,
		"end_date":   endDate,
	}

	var out TimelineResponse
	if err := c.post(ctx, "/api/timeline", payload, &out); err != nil {
		return nil, fmt.Errorf("timeline request: %w", err)
	}
	return &out, nil
}

// Stats retrieves activity statistics for one of the fixed time ranges
// ("7d", "30d", "90d", "all").
func (c *Client) Stats(ctx context.Context, userID, timeRange string) (*StatsResponse, error) {
	payload := map[string]any{
		"user_id":    userID,
		"time_range": timeRange,
	}

	var out StatsResponse
	if err := c.post(ctx, "/api/stats", payload, &out); err != nil {
		return nil, fmt.Errorf("stats request: %w", err)
	}
	return &out, nil
}

// Timeline adapts FetchTimeline to the core's event-source contract,
// parsing wire events into rlm.TimelineEvent records.
func (c *Client) Timeline(ctx context.Context, userID string, start, end time.Time) (map[string][]rlm.TimelineEvent, error) {
	resp, err := c.FetchTimeline(ctx, userID, start.Format(isoLayout), end.Format(isoLayout))
	if err != nil {
		return nil, err
	}

	events := make(map[string][]rlm.TimelineEvent, len(resp.EventsByDate))
	for date, wire := range resp.EventsByDate {
		converted := make([]rlm.TimelineEvent, 0, len(wire))
		for _, ev := range wire {
			ts, err := parseTimestamp(ev.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", ev.EventID, err)
			}
			converted = append(converted, rlm.TimelineEvent{
				EventID:    ev.EventID,
				Timestamp:  ts,
				Action:     ev.Action,
				Actor:      ev.Actor,
				Target:     ev.Target,
				Quantity:   ev.Quantity,
				Unit:       ev.Unit,
				Confidence: ev.Confidence,
			})
		}
		events[date] = converted
	}
	return events, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(isoLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
