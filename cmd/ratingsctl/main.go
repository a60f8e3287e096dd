package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Clark-Hu/movie-review-aggregator/internal/app"
	"github.com/Clark-Hu/movie-review-aggregator/internal/config"
	"github.com/Clark-Hu/movie-review-aggregator/internal/resolver"
	"github.com/Clark-Hu/movie-review-aggregator/internal/store"
)

var logLevel string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ratingsctl",
		Short:         "Operate the movie rating aggregator database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(refreshCmd())
	return root
}

func migrateCmd() *cobra.Command {
	var dbURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbURL == "" {
				if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("load .env: %w", err)
				}
				dbURL = os.Getenv("DB_URL")
			}
			if dbURL == "" {
				return fmt.Errorf("--db-url or DB_URL is required")
			}
			logger, err := newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return store.Migrate(dbURL, logger)
		},
	}

	cmd.Flags().StringVar(&dbURL, "db-url", "", "Postgres connection URL (default: $DB_URL)")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <title>",
		Short: "Resolve a title, fetching and storing provider ratings on first sight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				result := a.Resolver.Resolve(cmd.Context(), args[0])
				switch result.Outcome {
				case resolver.OutcomeFound:
					return printJSON(cmd.OutOrStdout(), result.Record)
				case resolver.OutcomeSuggestions:
					fmt.Fprintln(cmd.OutOrStdout(), result.Message)
					for _, title := range result.Suggestions {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", title)
					}
					return fmt.Errorf("no exact match for %q", args[0])
				case resolver.OutcomeNotFound:
					return errors.New(result.Message)
				default:
					return fmt.Errorf("provider error: %s", result.Message)
				}
			})
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-fetch provider ratings for a stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				updated, err := a.Resolver.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
}

func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	return logger, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
