package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/lockedin/internal/acme"
	"github.com/goodtune/lockedin/internal/api"
	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/classify"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/goodtune/lockedin/internal/storage/bolt"
	"github.com/goodtune/lockedin/internal/storage/redis"
	"github.com/goodtune/lockedin/internal/systemd"
	"github.com/goodtune/lockedin/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the classify service",
	Long:  `Start the classify API (POST /analyze) with the per-user daily usage ledger and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting LockedIn classify service")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage, cfg.Usage.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	ledger := usage.NewLedger(store.Usage(), cfg.Usage.DailyLimit, logger)

	retention, err := usage.NewRetentionScheduler(store.Usage(), cfg.Usage.CleanupTime, cfg.Usage.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	retention.Start()

	model, err := buildModel(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.ParseDuration(cfg.Auth.TokenTTL, 30*24*time.Hour))

	certFile, keyFile := "", ""
	if cfg.TLS.Enabled {
		certFile, keyFile = cfg.TLS.CertFile, cfg.TLS.KeyFile

		if cfg.TLS.ACME.Enabled {
			acmeClient := acme.NewClient(acme.Config{
				Email:       cfg.TLS.ACME.Email,
				DNSProvider: cfg.TLS.ACME.DNSProvider,
				HTTPPort:    cfg.TLS.ACME.HTTPPort,
				CertPath:    cfg.TLS.CertFile,
				KeyPath:     cfg.TLS.KeyFile,
				CADirURL:    cfg.TLS.ACME.CADirURL,
				Domain:      cfg.TLS.ACME.Domain,
			}, logger)

			if err := acmeClient.EnsureCertificate(); err != nil {
				return fmt.Errorf("failed to obtain certificate: %w", err)
			}
		}
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		ReadTimeout:     config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:    config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
		ShutdownTimeout: config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		CertFile:        certFile,
		KeyFile:         keyFile,
	}, ledger, model, authService, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().
		Int("daily_limit", cfg.Usage.DailyLimit).
		Str("model", cfg.Model.Provider).
		Bool("tls", certFile != "").
		Msg("LockedIn classify service startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	waitForShutdown(logger, nil)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	retention.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("LockedIn classify service stopped")

	return nil
}

// buildModel creates the configured classifier, wrapped in the verdict cache.
func buildModel(cfg *config.Config, logger zerolog.Logger) (classify.Model, error) {
	var model classify.Model

	switch cfg.Model.Provider {
	case "static":
		logger.Warn().Msg("Using static model; every page is allowed")
		model = classify.Static{}
	case "openai":
		m, err := classify.NewOpenAI(cfg.Model.APIKey,
			classify.WithModel(cfg.Model.Name),
			classify.WithBaseURL(cfg.Model.BaseURL),
			classify.WithTimeout(config.ParseDuration(cfg.Model.Timeout, 20*time.Second)),
			classify.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		model = m
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}

	if cfg.Cache.Size > 0 {
		model = classify.NewCached(model, cfg.Cache.Size, config.ParseDuration(cfg.Cache.TTL, time.Hour))
	}
	return model, nil
}

// waitForShutdown blocks until SIGINT or SIGTERM. SIGHUP calls reload when
// it is set.
func waitForShutdown(logger zerolog.Logger, reload func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			return
		}

		if reload == nil {
			logger.Info().Msg("SIGHUP received, nothing to reload")
			continue
		}

		logger.Info().Msg("SIGHUP received, reloading...")
		_ = systemd.NotifyReloading()
		if err := reload(); err != nil {
			logger.Error().Err(err).Msg("Reload failed")
		} else {
			logger.Info().Msg("Reload complete")
		}
		_ = systemd.NotifyReady()
	}
}

func openStorage(cfg config.StorageConfig, retentionDays int) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis, retentionDays)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Logs go to stderr; the native messaging host owns stdout
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
