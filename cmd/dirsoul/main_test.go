package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/dirsoul/dirsoul/internal/config"
	"github.com/dirsoul/dirsoul/internal/gateway"
)

// mockRuntime implements gateway.Runtime for testing
type mockRuntime struct {
	output string
	err    error
}

func (m *mockRuntime) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &api.Response{Result: &api.Result{Output: m.output}}, nil
}

func (m *mockRuntime) Close() {}

func setupEnv(t *testing.T, backendURL string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DIRSOUL_API_URL", backendURL)
	for _, key := range []string{"DIRSOUL_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "TELEGRAM_BOT_TOKEN", "DIRSOUL_TELEGRAM_TOKEN"} {
		t.Setenv(key, "")
	}
}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/timeline", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total_events": 2,
			"events_by_date": map[string]any{
				"2026-03-01": []map[string]any{
					{"event_id": "ev-1", "timestamp": "2026-03-01T08:00:00", "action": "ate", "target": "apples"},
					{"event_id": "ev-2", "timestamp": "2026-03-01T12:00:00", "action": "ran"},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnboard(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")

	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	cfgPath := config.ConfigPath()
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config not valid JSON: %v", err)
	}

	ws := filepath.Join(os.Getenv("HOME"), ".dirsoul", "workspace")
	if _, err := os.Stat(ws); err != nil {
		t.Errorf("workspace not created: %v", err)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")

	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("first onboard error: %v", err)
	}

	// Second run must not clobber the existing config.
	marker := []byte(`{"provider":{"apiKey":"keep-me"}}`)
	os.WriteFile(config.ConfigPath(), marker, 0644)

	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("second onboard error: %v", err)
	}
	data, _ := os.ReadFile(config.ConfigPath())
	if !bytes.Contains(data, []byte("keep-me")) {
		t.Error("existing config was overwritten")
	}
}

func TestRunStatus(t *testing.T) {
	srv := newBackendServer(t)
	setupEnv(t, srv.URL)

	if err := runStatus(statusCmd, nil); err != nil {
		t.Errorf("runStatus error: %v", err)
	}
}

func TestRunAskWithOptions_KeywordPath(t *testing.T) {
	srv := newBackendServer(t)
	setupEnv(t, srv.URL)
	userFlag = "u1"

	var out bytes.Buffer
	if err := runAskWithOptions("apples", CommandOptions{Stdout: &out}); err != nil {
		t.Fatalf("runAskWithOptions error: %v", err)
	}
	if !strings.Contains(out.String(), "apples") {
		t.Errorf("output = %q, want match mentioning apples", out.String())
	}
	if !strings.Contains(out.String(), "confidence 50%") {
		t.Errorf("output = %q, want keyword confidence", out.String())
	}
}

func TestRunAskWithOptions_MockRuntime(t *testing.T) {
	srv := newBackendServer(t)
	setupEnv(t, srv.URL)
	userFlag = "u1"

	factory := func(cfg *config.Config, sysPrompt string) (gateway.Runtime, error) {
		return &mockRuntime{output: "You ate apples."}, nil
	}

	var out bytes.Buffer
	if err := runAskWithOptions("what did I eat?", CommandOptions{Stdout: &out, RuntimeFactory: factory}); err != nil {
		t.Fatalf("runAskWithOptions error: %v", err)
	}
	if !strings.Contains(out.String(), "You ate apples.") {
		t.Errorf("output = %q, want delegated answer", out.String())
	}
}

func TestRunBuildWithOptions(t *testing.T) {
	srv := newBackendServer(t)
	setupEnv(t, srv.URL)
	userFlag = "u1"
	daysFlag = 7
	forceFlag = false

	var out bytes.Buffer
	if err := runBuildWithOptions(CommandOptions{Stdout: &out}); err != nil {
		t.Fatalf("runBuildWithOptions error: %v", err)
	}
	if !strings.Contains(out.String(), "Ingested 2 events for u1") {
		t.Errorf("output = %q, want ingest count", out.String())
	}
	if !strings.Contains(out.String(), "raw") {
		t.Errorf("output = %q, want layer info", out.String())
	}
}

func TestRunInfoWithOptions(t *testing.T) {
	srv := newBackendServer(t)
	setupEnv(t, srv.URL)
	userFlag = "u1"

	var out bytes.Buffer
	if err := runInfoWithOptions(CommandOptions{Stdout: &out}); err != nil {
		t.Fatalf("runInfoWithOptions error: %v", err)
	}
	if !strings.Contains(out.String(), "Context for u1") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "Queries: 0") {
		t.Errorf("output = %q, want query stats", out.String())
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}

func TestInit_CommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"bot", "ask", "build", "info", "onboard", "status"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}
