package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sjawhar/pollcast/internal/config"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger
	creds  *config.CredentialStore
	stdin  io.Reader
}

func newRootCmd() *cobra.Command {
	a := &app{stdin: os.Stdin}
	var configPath, envFile, credentialFile string

	rootCmd := &cobra.Command{
		Use:           "pollcast",
		Short:         "Live transcript sessions with auto-generated polls",
		Long:          "pollcast streams a host's speech as a live transcript, drafts multiple-choice polls from it with an LLM, and collects participant answers.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd, configPath, envFile, credentialFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", envOrDefault(config.EnvPrefix+"CONFIG", "pollcast.yaml"), "path to the YAML config file")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&credentialFile, "credential-file", "", "where the poll generator key is stored (default: user config dir)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newHostCmd(a),
		newJoinCmd(a),
		newCredentialCmd(a),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command, configPath, envFile, credentialFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(a.logger)
	for _, w := range warnings {
		a.logger.Warn("config", "warning", w)
	}

	if credentialFile != "" {
		a.creds = config.NewCredentialStore(credentialFile)
		return nil
	}
	creds, err := config.DefaultCredentialStore()
	if err != nil {
		return err
	}
	a.creds = creds
	return nil
}

// pollKey returns the generator credential: the environment wins over the
// stored key.
func (a *app) pollKey() string {
	if a.cfg.PollAPIKey != "" {
		return a.cfg.PollAPIKey
	}
	key, err := a.creds.Load()
	if err != nil {
		a.logger.Warn("read stored credential", "error", err)
		return ""
	}
	return key
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
