package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/pipeline"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/remote"
	"github.com/goodtune/lockedin/internal/verdict"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkGoal  string
	checkTitle string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] URL",
	Short: "Ask the classify service about one page",
	Long: `Check what the watcher would do with a page for a given goal. Local bypass
policies are evaluated first, then the classify service is called. The call
counts against the daily quota.`,
	Example: `  lockedin check --goal "study for exam" https://video.example.com/watch?v=funny
  lockedin -c client.yaml check --goal "write thesis" --title "Notes" https://docs.example.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkGoal, "goal", "", "Session goal (required)")
	checkCmd.Flags().StringVar(&checkTitle, "title", "", "Page title (optional)")
	_ = checkCmd.MarkFlagRequired("goal")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	pageURL := args[0]

	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("invalid URL: %s", pageURL)
	}
	goal := strings.TrimSpace(checkGoal)
	if goal == "" {
		return fmt.Errorf("goal must not be empty")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	bypass, err := policy.NewEngine(cfg.Client.BypassPolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load bypass policies: %w", err)
	}

	timeout := config.ParseDuration(cfg.Client.ClassifyTimeout, pipeline.DefaultClassifyTimeout)
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	var result verdict.Result
	bypassed := false

	if decision := bypass.Bypass(ctx, policy.BypassRequest{URL: pageURL, Title: checkTitle, Goal: goal}); decision.Allow {
		result = verdict.Allow(decision.Reason)
		bypassed = true
	} else {
		client := remote.New(cfg.Client.APIURL, tokenSource(cfg.Client),
			remote.WithHTTPClient(&http.Client{Timeout: timeout}),
			remote.WithLogger(logger),
		)
		result = verdict.Resolve(client.Classify(ctx, pageURL, checkTitle, goal))
	}

	printCheckResult(parsed, goal, cfg.Client.APIURL, result, bypassed, time.Since(start))
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(pageURL *url.URL, goal, apiURL string, result verdict.Result, bypassed bool, elapsed time.Duration) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LOCKEDIN PAGE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:        %s\n", pageURL.String())
	fmt.Printf("Goal:       %s\n", goal)
	if bypassed {
		fmt.Printf("Judge:      local bypass policy\n")
	} else {
		fmt.Printf("Judge:      %s\n", apiURL)
	}
	fmt.Printf("Elapsed:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Println()

	cyan.Print("Decision:   ")
	switch result.Kind {
	case verdict.Allowed:
		green.Println("ALLOW")
		fmt.Println("            → Page stays open")
	case verdict.Blocked:
		red.Println("BLOCK")
		fmt.Println("            → Tab would be redirected to the block page")
	case verdict.SessionExpired:
		yellow.Println("SESSION EXPIRED")
		fmt.Println("            → Issue a new token with 'lockedin token issue'")
	case verdict.RateLimited:
		yellow.Println("DAILY LIMIT REACHED")
		fmt.Println("            → The session would end until tomorrow")
	default:
		fmt.Println(result.Kind)
	}

	if result.Reason != "" {
		fmt.Printf("Reason:     %s\n", result.Reason)
	}
	if result.Err != nil {
		yellow.Printf("Error:      %v\n", result.Err)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
