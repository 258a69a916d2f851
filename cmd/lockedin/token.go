package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenUser   string
	tokenTTL    time.Duration
	tokenOutput string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage identity tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an identity token for a user",
	Long: `Issue a signed identity token for a user. The classify service must share
the same auth.jwt_secret.`,
	Example: `  lockedin token issue --user alice
  lockedin token issue --user alice --ttl 168h --output ~/.config/lockedin/token`,
	Args: cobra.NoArgs,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "User id (required)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	tokenIssueCmd.Flags().StringVarP(&tokenOutput, "output", "o", "", "Write the token to a file instead of stdout")
	_ = tokenIssueCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required to issue tokens")
	}

	svc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.ParseDuration(cfg.Auth.TokenTTL, 30*24*time.Hour))

	token, err := svc.GenerateToken(tokenUser, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	if tokenOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(tokenOutput), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(tokenOutput, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Token for %s written to %s\n", tokenUser, tokenOutput)
	return nil
}
