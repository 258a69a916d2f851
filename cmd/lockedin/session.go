package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/session"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/goodtune/lockedin/internal/storage/bolt"
	"github.com/goodtune/lockedin/internal/storage/redis"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, end or inspect the lock-in session",
}

var sessionStartCmd = &cobra.Command{
	Use:     "start GOAL...",
	Short:   "Lock in on a goal",
	Example: `  lockedin session start study for the calculus exam`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	Args:  cobra.NoArgs,
	RunE:  runSessionEnd,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session record",
	Args:  cobra.NoArgs,
	RunE:  runSessionStatus,
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	rootCmd.AddCommand(sessionCmd)
}

// sessionManager loads the configuration and opens the session record.
// The returned function releases the store.
func sessionManager() (*session.Manager, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, closer, err := openSessionStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return session.NewManager(store), closer, nil
}

// openSessionStore picks the session record backend. The bolt file is
// opened per operation; the redis record is keyed by client.user_id.
func openSessionStore(cfg *config.Config) (storage.SessionStore, func() error, error) {
	switch cfg.Client.SessionStore {
	case "", "bolt":
		return bolt.NewSharedSessionStore(cfg.Client.SessionPath), func() error { return nil }, nil
	case "redis":
		store, err := redis.Open(cfg.Storage.Redis, cfg.Usage.RetentionDays)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return store.Sessions(cfg.Client.UserID), store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store: %s", cfg.Client.SessionStore)
	}
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	manager, closeStore, err := sessionManager()
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	state, err := manager.Start(cmd.Context(), strings.Join(args, " "))
	if errors.Is(err, session.ErrDailyLimitReached) {
		color.New(color.FgYellow, color.Bold).Fprintln(cmd.OutOrStdout(), "Daily limit reached. Blocking is paused until tomorrow.")
		return err
	}
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprint(cmd.OutOrStdout(), "Locked in: ")
	fmt.Fprintln(cmd.OutOrStdout(), state.CurrentGoal)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	manager, closeStore, err := sessionManager()
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	before, err := manager.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := manager.End(cmd.Context(), false); err != nil {
		return err
	}

	if before.IsLockedIn {
		fmt.Fprintf(cmd.OutOrStdout(), "Session ended: %s\n", before.CurrentGoal)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "No active session")
	}
	return nil
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	manager, closeStore, err := sessionManager()
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	state, err := manager.Snapshot(cmd.Context())
	if err != nil {
		return err
	}

	printSessionStatus(cmd, manager, state)
	return nil
}

func printSessionStatus(cmd *cobra.Command, manager *session.Manager, state session.State) {
	out := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	cyan.Fprint(out, "Status:       ")
	if state.IsLockedIn {
		green.Fprintln(out, "LOCKED IN")
		fmt.Fprintf(out, "Goal:         %s\n", state.CurrentGoal)
	} else {
		fmt.Fprintln(out, "idle")
	}

	if manager.RateLimitedToday(state) {
		yellow.Fprintln(out, "Daily limit:  reached today, blocking is paused until tomorrow")
	} else if state.LastRateLimitedDate != "" {
		fmt.Fprintf(out, "Daily limit:  last reached %s\n", state.LastRateLimitedDate)
	}
}
