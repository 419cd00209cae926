// Package gateway wires the pieces together: config, backend client,
// context manager, answer runtime, channels and the maintenance scheduler.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/dirsoul/dirsoul/internal/bus"
	"github.com/dirsoul/dirsoul/internal/channel"
	"github.com/dirsoul/dirsoul/internal/config"
	"github.com/dirsoul/dirsoul/internal/cron"
	"github.com/dirsoul/dirsoul/internal/rlm"
	"github.com/dirsoul/dirsoul/internal/timeline"
)

const helpText = `I keep track of your personal event history.

/record <text> - record something that happened
/ask <question> - ask a question about your memories
/timeline [days] - show your recent events
/stats [7d|30d|90d|all] - show activity statistics
/memory - show context layer fill levels
/forget - clear your in-memory context
/help - this message

Plain text is recorded just like /record.`

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
}

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	return newRuntime(cfg, sysPrompt)
}

func newRuntime(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// runtimeAnswerer adapts the agent runtime to the core's Answerer contract.
type runtimeAnswerer struct {
	rt Runtime
}

func (a *runtimeAnswerer) Answer(ctx context.Context, question, formattedContext string) (string, error) {
	prompt := fmt.Sprintf(
		"Here are entries from the user's personal event history:\n\n%s\n\nAnswer this question using only the entries above: %s",
		formattedContext, question)

	resp, err := a.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: "context-query",
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil || strings.TrimSpace(resp.Result.Output) == "" {
		return "", fmt.Errorf("empty answer from runtime")
	}
	return resp.Result.Output, nil
}

// runtimeSummarizer delegates period summaries to the agent runtime.
type runtimeSummarizer struct {
	rt Runtime
}

func (s *runtimeSummarizer) Summarize(ctx context.Context, layer rlm.Layer, periodStart time.Time, entries []rlm.Entry) (string, error) {
	prompt := fmt.Sprintf(
		"Condense these entries from the %s period starting %s into one short factual summary:\n\n%s",
		layer, periodStart.Format("2006-01-02"), rlm.FormatEntriesForSummary(entries))

	resp, err := s.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: "context-summarize",
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil || strings.TrimSpace(resp.Result.Output) == "" {
		return "", fmt.Errorf("empty summary from runtime")
	}
	return resp.Result.Output, nil
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	runtime    Runtime
	answerer   rlm.Answerer
	backend    *timeline.Client
	manager    *rlm.Manager
	channels   *channel.ChannelManager
	cron       *cron.Service
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.backend = timeline.NewClient(cfg.Backend.BaseURL)
	g.manager = rlm.NewManager(g.backend)

	// Without an API key queries fall back to local keyword matching, so
	// the runtime is only built when it can actually be used.
	const sysPrompt = "You answer questions about a user's personal event history. Be brief and concrete."
	factory := opts.RuntimeFactory
	if factory == nil && cfg.Provider.APIKey != "" {
		factory = DefaultRuntimeFactory
	}
	if factory != nil {
		rt, err := factory(cfg, sysPrompt)
		if err != nil {
			return nil, err
		}
		g.runtime = rt
		g.answerer = &runtimeAnswerer{rt: rt}
	}

	var summarizer rlm.Summarizer = rlm.HeuristicSummarizer{}
	if g.runtime != nil {
		summarizer = &runtimeSummarizer{rt: g.runtime}
	}
	g.cron = cron.NewService(cfg.Context, g.manager, summarizer)

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.signalChan = opts.SignalChan
	return g, nil
}

// Manager exposes the context manager (used by the CLI commands).
func (g *Gateway) Manager() *rlm.Manager {
	return g.manager
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.backend.Health(ctx); err != nil {
		log.Printf("[gateway] backend health check failed: %v", err)
	}

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running against backend %s", g.cfg.Backend.BaseURL)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			reply := g.handleMessage(ctx, msg)
			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound message: slash commands to their
// handlers, everything else to the backend chat API as a recording.
func (g *Gateway) handleMessage(ctx context.Context, msg bus.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return ""
	}
	userID := msg.SenderID

	if !strings.HasPrefix(content, "/") {
		return g.record(ctx, userID, content)
	}

	cmd, args := content, ""
	if idx := strings.IndexAny(content, " \n"); idx > 0 {
		cmd, args = content[:idx], strings.TrimSpace(content[idx+1:])
	}

	switch cmd {
	case "/start":
		return "Hi! I'm your personal memory assistant. Tell me what happened and ask me about it later.\n\n" + helpText
	case "/help":
		return helpText
	case "/record":
		if args == "" {
			return "Usage: /record <what happened>"
		}
		return g.record(ctx, userID, args)
	case "/ask":
		if args == "" {
			return "Usage: /ask <question about your memories>"
		}
		return g.Ask(ctx, userID, args)
	case "/timeline":
		return g.timelineReply(ctx, userID, args)
	case "/stats":
		return g.statsReply(ctx, userID, args)
	case "/memory":
		return g.memoryReply(userID)
	case "/forget":
		g.manager.ClearContext(userID)
		return "Cleared your in-memory context. It will be rebuilt from the timeline on your next question."
	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", cmd)
	}
}

func (g *Gateway) record(ctx context.Context, userID, text string) string {
	resp, err := g.backend.SendChat(ctx, userID, text)
	if err != nil {
		log.Printf("[gateway] record for %s failed: %v", userID, err)
		return "Sorry, I couldn't reach the memory backend. Please try again."
	}
	return resp.Response
}

// Ask answers a question from the user's context, delegating synthesis to
// the runtime when one is configured.
func (g *Gateway) Ask(ctx context.Context, userID, question string) string {
	result := g.manager.Query(ctx, userID, question, rlm.QueryOptions{
		MaxTokens: g.cfg.Context.QueryTokens,
		Answerer:  g.answerer,
	})

	if result.Confidence > 0 {
		// Single asterisks so the telegram channel renders the footer italic.
		return fmt.Sprintf("%s\n\n*confidence %.0f%%, %d entries used*",
			result.Answer, result.Confidence*100, len(result.ContextUsed))
	}
	return result.Answer
}

func (g *Gateway) timelineReply(ctx context.Context, userID, args string) string {
	days := g.cfg.Context.Days
	if args != "" {
		parsed, err := strconv.Atoi(args)
		if err != nil || parsed <= 0 {
			return "Usage: /timeline [days]"
		}
		days = parsed
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	resp, err := g.backend.FetchTimeline(ctx, userID,
		start.Format("2006-01-02T15:04:05"), end.Format("2006-01-02T15:04:05"))
	if err != nil {
		log.Printf("[gateway] timeline for %s failed: %v", userID, err)
		return "Sorry, I couldn't fetch your timeline."
	}
	if resp.TotalEvents == 0 {
		return fmt.Sprintf("No events recorded in the last %d days.", days)
	}

	dates := make([]string, 0, len(resp.EventsByDate))
	for date := range resp.EventsByDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%d events in the last %d days**\n", resp.TotalEvents, days)
	for _, date := range dates {
		fmt.Fprintf(&sb, "\n%s\n", date)
		for _, ev := range resp.EventsByDate[date] {
			line := ev.Action
			if ev.Target != "" {
				line += " " + ev.Target
			}
			if ev.Quantity != nil {
				line += " " + strconv.FormatFloat(*ev.Quantity, 'f', -1, 64)
				if ev.Unit != "" {
					line += " " + ev.Unit
				}
			}
			fmt.Fprintf(&sb, "• %s\n", line)
		}
	}
	if resp.Summary != "" {
		fmt.Fprintf(&sb, "\n%s", resp.Summary)
	}
	return sb.String()
}

func (g *Gateway) statsReply(ctx context.Context, userID, args string) string {
	timeRange := "30d"
	switch args {
	case "":
	case "7d", "30d", "90d", "all":
		timeRange = args
	default:
		return "Usage: /stats [7d|30d|90d|all]"
	}

	stats, err := g.backend.Stats(ctx, userID, timeRange)
	if err != nil {
		log.Printf("[gateway] stats for %s failed: %v", userID, err)
		return "Sorry, I couldn't fetch your statistics."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Activity over %s**\n", timeRange)
	fmt.Fprintf(&sb, "Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(&sb, "Entities: %d\n", stats.TotalEntities)

	if len(stats.EventTypes) > 0 {
		types := make([]string, 0, len(stats.EventTypes))
		for t := range stats.EventTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		sb.WriteString("\nBy type:\n")
		for _, t := range types {
			fmt.Fprintf(&sb, "• %s: %d\n", t, stats.EventTypes[t])
		}
	}
	return sb.String()
}

func (g *Gateway) memoryReply(userID string) string {
	info := g.manager.Info(userID)

	var sb strings.Builder
	sb.WriteString("**Context layers**\n")
	for _, layer := range rlm.Layers {
		li := info.Layers[layer.String()]
		fmt.Fprintf(&sb, "• %s: %d/%d", layer, li.Count, li.Capacity)
		if t, ok := info.LastUpdated[layer.String()]; ok {
			fmt.Fprintf(&sb, " (updated %s)", t.Format("2006-01-02 15:04"))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nQueries answered: %d (avg %.0f tokens)",
		info.Stats.TotalQueries, info.Stats.AvgTokens)
	return sb.String()
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.runtime != nil {
		g.runtime.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
