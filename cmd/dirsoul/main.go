package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dirsoul/dirsoul/internal/config"
	"github.com/dirsoul/dirsoul/internal/gateway"
	"github.com/dirsoul/dirsoul/internal/rlm"
	"github.com/dirsoul/dirsoul/internal/timeline"
)

// CommandOptions for running CLI commands with custom dependencies
type CommandOptions struct {
	RuntimeFactory gateway.RuntimeFactory
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "dirsoul",
	Short: "dirsoul - personal memory assistant over your event history",
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Start the full gateway (channels + scheduled maintenance)",
	RunE:  runBot,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the recorded history",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the context from the backend timeline",
	RunE:  runBuild,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show context layer fill levels and query statistics",
	RunE:  runInfo,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dirsoul status",
	RunE:  runStatus,
}

var (
	userFlag  string
	daysFlag  int
	forceFlag bool
)

func init() {
	askCmd.Flags().StringVarP(&userFlag, "user", "u", "cli", "user id to query as")
	buildCmd.Flags().StringVarP(&userFlag, "user", "u", "cli", "user id to build for")
	buildCmd.Flags().IntVarP(&daysFlag, "days", "d", 0, "days of history (default from config)")
	buildCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "rebuild even if context exists")
	infoCmd.Flags().StringVarP(&userFlag, "user", "u", "cli", "user id to inspect")
	rootCmd.AddCommand(botCmd, askCmd, buildCmd, infoCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(strings.Join(args, " "), CommandOptions{})
}

func runAskWithOptions(question string, opts CommandOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{RuntimeFactory: opts.RuntimeFactory})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	fmt.Fprintln(stdout, gw.Ask(context.Background(), userFlag, question))
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	return runBuildWithOptions(CommandOptions{})
}

func runBuildWithOptions(opts CommandOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	days := daysFlag
	if days <= 0 {
		days = cfg.Context.Days
	}

	client := timeline.NewClient(cfg.Backend.BaseURL)
	mgr := rlm.NewManager(client)
	count := mgr.BuildContextFromTimeline(context.Background(), userFlag, days, forceFlag)
	fmt.Fprintf(stdout, "Ingested %d events for %s (last %d days)\n", count, userFlag, days)

	if err := mgr.SummarizeAll(context.Background(), userFlag, rlm.HeuristicSummarizer{}); err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	printInfo(stdout, mgr.Info(userFlag))
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	return runInfoWithOptions(CommandOptions{})
}

func runInfoWithOptions(opts CommandOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	client := timeline.NewClient(cfg.Backend.BaseURL)
	mgr := rlm.NewManager(client)
	mgr.BuildContextFromTimeline(context.Background(), userFlag, cfg.Context.Days, false)
	printInfo(stdout, mgr.Info(userFlag))
	return nil
}

func printInfo(w io.Writer, info rlm.ContextInfo) {
	fmt.Fprintf(w, "Context for %s:\n", info.UserID)
	for _, layer := range rlm.Layers {
		li := info.Layers[layer.String()]
		fmt.Fprintf(w, "  %-6s %3d/%d", layer, li.Count, li.Capacity)
		if t, ok := info.LastUpdated[layer.String()]; ok {
			fmt.Fprintf(w, "  updated %s", t.Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Queries: %d (avg %.0f tokens)\n", info.Stats.TotalQueries, info.Stats.AvgTokens)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	if err := os.MkdirAll(cfg.Agent.Workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Printf("Workspace ready: %s\n", cfg.Agent.Workspace)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Point %s at your backend (or set DIRSOUL_API_URL)\n", cfgPath)
	fmt.Println("  2. Set TELEGRAM_BOT_TOKEN to enable the bot surface")
	fmt.Println("  3. Optionally set DIRSOUL_API_KEY / ANTHROPIC_API_KEY for generated answers")
	fmt.Println("  4. Run 'dirsoul bot' to start")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set (queries use keyword matching)")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Context: %d days, %d query tokens\n", cfg.Context.Days, cfg.Context.QueryTokens)

	client := timeline.NewClient(cfg.Backend.BaseURL)
	if err := client.Health(context.Background()); err != nil {
		fmt.Printf("Backend health: unreachable (%v)\n", err)
	} else {
		fmt.Println("Backend health: ok")
	}

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'dirsoul onboard')")
	} else {
		fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
