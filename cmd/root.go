package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/man-iishkr/RupX/internal/config"
	"github.com/man-iishkr/RupX/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "rupx",
	Short: "Face recognition attendance engine",
	Long: `RupX turns face embeddings into attendance records.

A training pipeline publishes one reference embedding per person of a
project; a recognition session then matches the embeddings of detected
faces, marks each recognized person present once per day or per session,
and raises a notification for unknown faces that stay in view.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
