package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/internal/server"
	"github.com/ludo-technologies/sentinel/service"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyze and query API over HTTP",
		Long: `Serve analysis and findings queries over HTTP.

Routes:
  GET  /health
  POST /api/v1/analyze        {"paths": ["src"]}
  GET  /api/v1/findings       ?severity=&category=&path_prefix=&session=&check=&since=&until=&max_results=&timeout=
  GET  /api/v1/sessions       ?limit=
  GET  /api/v1/sessions/{id}

Examples:
  sentinel serve
  sentinel serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.address)")
	cmd.Flags().StringSlice("checks", nil, "Run only these checks for analyze requests")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	checks, _ := cmd.Flags().GetStringSlice("checks")

	cfg, err := loadConfig(cmd, "", service.ConfigOverrides{ServerAddress: addr})
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := app.OpenRuntime(cfg, app.RuntimeOptions{Logger: logger})
	if err != nil {
		return errorExit(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	analyze, err := rt.AnalyzeUseCase(checks)
	if err != nil {
		return errorExit(err)
	}
	query, err := rt.QueryUseCase()
	if err != nil {
		return errorExit(err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	srv := server.New(cfg.Server, analyze, query, rt.Store, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return errorExit(err)
	}
	return nil
}
