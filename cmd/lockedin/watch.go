package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/blockpage"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/host/cdp"
	"github.com/goodtune/lockedin/internal/host/native"
	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/notify"
	"github.com/goodtune/lockedin/internal/pipeline"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/remote"
	"github.com/goodtune/lockedin/internal/session"
	"github.com/goodtune/lockedin/internal/watcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchHost string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch browser navigations and enforce the active session",
	Long: `Watch browser navigations and, while a session is active, redirect pages
that do not serve the session goal to the local block page.

With --host cdp the watcher attaches to a Chrome DevTools endpoint. With
--host native it runs as the extension's native messaging host on stdin and
stdout.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchHost, "host", "", "Browser binding: cdp or native (default from client.host)")
	rootCmd.AddCommand(watchCmd)
}

// eventSource is a browser binding that reports navigations and can
// redirect tabs.
type eventSource interface {
	watcher.Source
	pipeline.Tabs
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if watchHost != "" {
		cfg.Client.Host = watchHost
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info().
		Str("version", version).
		Str("host", cfg.Client.Host).
		Str("api_url", cfg.Client.APIURL).
		Str("session_store", cfg.Client.SessionStore).
		Msg("Starting LockedIn watcher")

	sessionStore, closeSessions, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeSessions() }()
	manager := session.NewManager(sessionStore)

	// Block page
	blockServer := blockpage.NewServer(cfg.Client.BlockPageAddr, logger)
	if err := blockServer.Start(); err != nil {
		return fmt.Errorf("failed to start block page server: %w", err)
	}
	defer func() { _ = blockServer.Stop() }()

	blockURL := cfg.Client.BlockPageURL
	if blockURL == "" {
		blockURL = blockServer.URL()
	}

	// Browser binding and notifications
	var source eventSource
	notifiers := notify.Multi{notify.NewLog(logger)}

	switch cfg.Client.Host {
	case "native":
		host := native.New(os.Stdin, os.Stdout, logger)
		source = host
		notifiers = append(notifiers, host)
	case "cdp":
		host := cdp.New(cdp.Config{
			ControlURL: cfg.Client.CDPURL,
			Launch:     cfg.Client.CDPLaunch,
			Headless:   cfg.Client.CDPHeadless,
		}, logger)
		if err := host.Connect(ctx); err != nil {
			return err
		}
		defer func() { _ = host.Close() }()
		source = host
		notifiers = append(notifiers, notify.NewConsole(nil))
	default:
		return fmt.Errorf("unsupported client host: %s", cfg.Client.Host)
	}

	// Local bypass rules
	bypass, err := policy.NewEngine(cfg.Client.BypassPolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load bypass policies: %w", err)
	}

	classifyTimeout := config.ParseDuration(cfg.Client.ClassifyTimeout, pipeline.DefaultClassifyTimeout)
	classifier := remote.New(cfg.Client.APIURL, tokenSource(cfg.Client),
		remote.WithHTTPClient(&http.Client{Timeout: classifyTimeout}),
		remote.WithLogger(logger),
	)

	p := pipeline.New(pipeline.Config{
		BlockPageURL:    blockURL,
		ClassifyTimeout: classifyTimeout,
	}, manager, classifier, notifiers, source, bypass, logger)

	if cfg.Client.MetricsPort > 0 {
		metricsServer := metrics.NewServer(fmt.Sprintf("127.0.0.1:%d", cfg.Client.MetricsPort), logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop() }()
	}

	// Only the bolt record is a file that can be watched
	if cfg.Client.SessionStore == "bolt" {
		go followSession(ctx, manager, cfg.Client.SessionPath, logger)
	}

	go func() {
		waitForShutdown(logger, bypass.Reload)
		cancel()
	}()

	events, err := source.Events(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch browser: %w", err)
	}

	logger.Info().Str("block_page", blockURL).Msg("LockedIn watcher ready")

	watcher.NewDispatcher(p, logger).Run(ctx, events)

	logger.Info().Msg("LockedIn watcher stopped")
	return nil
}

// tokenSource picks the identity token from configuration. With neither a
// token nor a token file every evaluation reports an expired session.
func tokenSource(cfg config.ClientConfig) auth.TokenSource {
	if cfg.TokenFile != "" {
		return auth.FileToken{Path: cfg.TokenFile}
	}
	return auth.StaticToken(cfg.Token)
}

// followSession logs session transitions written by other processes.
func followSession(ctx context.Context, manager *session.Manager, path string, logger zerolog.Logger) {
	logger = logger.With().Str("component", "session").Logger()

	for {
		err := manager.Follow(ctx, path, func(prev, next session.State) {
			switch {
			case next.IsLockedIn && (!prev.IsLockedIn || prev.CurrentGoal != next.CurrentGoal):
				logger.Info().Str("goal", next.CurrentGoal).Msg("Session started")
			case prev.IsLockedIn && !next.IsLockedIn:
				logger.Info().
					Str("goal", prev.CurrentGoal).
					Bool("rate_limited", manager.RateLimitedToday(next)).
					Msg("Session ended")
			}
		})
		if err == nil || ctx.Err() != nil {
			return
		}

		logger.Warn().Err(err).Msg("Session file watch failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
