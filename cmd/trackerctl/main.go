package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/repo-tracker/internal/app"
	"github.com/jwalitptl/repo-tracker/internal/config"
	"github.com/jwalitptl/repo-tracker/internal/repository/postgres"
	"github.com/jwalitptl/repo-tracker/pkg/auth"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:          "trackerctl",
		Short:        "Repository tracker operations",
		SilenceUsage: true,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations",
		RunE:  runMigrateDown,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE:  runMigrateVersion,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a batch job once and print its report",
	}
	checkCmd = &cobra.Command{
		Use:   "check-trackers",
		Short: "Poll every active tracker for new events",
		RunE:  runCheckTrackers,
	}
	sendCmd = &cobra.Command{
		Use:   "send-email",
		Short: "Drain the notification queue",
		RunE:  runSendEmail,
	}
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the subscription API",
		RunE:  runToken,
	}
	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Print notification queue lengths",
		RunE:  runQueueStats,
	}

	// Flags
	configDir string
	dbURL     string
	steps     int
	userID    string
	email     string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory containing config.yml. Defaults to the standard search paths")
	migrateCmd.PersistentFlags().StringVar(&dbURL, "database-url", "", "postgres:// URL. Falls back to configuration")
	downCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert; 0 reverts all")

	tokenCmd.Flags().StringVar(&userID, "user", "", "User id (UUID) to put in the subject. A random id is used when empty")
	tokenCmd.Flags().StringVar(&email, "email", "", "Notification address carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	migrateCmd.AddCommand(upCmd, downCmd, versionCmd)
	runCmd.AddCommand(checkCmd, sendCmd)
	rootCmd.AddCommand(migrateCmd, runCmd, tokenCmd, queueCmd)
}

func loadConfig() (*config.Config, error) {
	if configDir != "" {
		return config.LoadConfig(configDir)
	}
	return config.LoadConfig()
}

func openMigrator() (*postgres.Migrator, error) {
	url := dbURL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		url = cfg.Database.MigrateURL()
	}
	return postgres.NewMigrator(url)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	mg, err := openMigrator()
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	mg, err := openMigrator()
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Down(steps)
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	mg, err := openMigrator()
	if err != nil {
		return err
	}
	defer mg.Close()

	v, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
	return nil
}

// withApp builds the application for one command, cancelled on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.NewLogger(cfg.Log))
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runCheckTrackers(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Activity.CheckTrackers(ctx)
	})
}

func runSendEmail(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Notification.SendPending(ctx)
	})
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
		pending, err := a.Queue.Len(ctx)
		if err != nil {
			return nil, err
		}
		dead, err := a.Queue.DeadLetterLen(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"pending": pending, "dead_lettered": dead}, nil
	})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id := uuid.New()
	if userID != "" {
		if id, err = uuid.Parse(userID); err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
	}
	token, err := auth.NewJWTService(cfg.Auth.JWTSecret).GenerateAccessToken(id, email, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
