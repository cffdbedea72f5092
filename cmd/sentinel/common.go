package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/constants"
	"github.com/ludo-technologies/sentinel/internal/logging"
	"github.com/ludo-technologies/sentinel/service"
)

// loadConfig resolves the configuration for target and applies overrides
func loadConfig(cmd *cobra.Command, target string, overrides service.ConfigOverrides) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if overrides.LogLevel == "" {
		overrides.LogLevel, _ = cmd.Flags().GetString("log-level")
	}

	loader := service.NewConfigurationLoader()
	cfg, err := loader.LoadConfig(path, target)
	if err != nil {
		return nil, errorExit(err)
	}
	cfg, err = loader.ApplyOverrides(cfg, overrides)
	if err != nil {
		return nil, errorExit(err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, errorExit(err)
	}
	return logger, nil
}

// signalContext is canceled on interrupt or termination
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openOutput returns the report destination; path "" means the command's stdout
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errorExit(err)
	}
	return f, f.Close, nil
}

func errorExit(err error) error {
	return &ExitError{Code: constants.ExitError, Message: err.Error()}
}
