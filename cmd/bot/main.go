package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"webhook-chatter/internal/config"
	"webhook-chatter/internal/logging"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "chatter",
	Short:         "Telegram webhook chat bot backed by an LLM",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(webhookCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment and builds the process logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	dotenvErr := config.LoadDotEnv(envFile)
	cfg, err := config.New()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel)
	if dotenvErr != nil {
		logger.Debug().Err(dotenvErr).Str("path", envFile).Msg("dotenv file not loaded")
	}
	return cfg, logger, nil
}
