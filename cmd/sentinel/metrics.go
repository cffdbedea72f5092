package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/service"
)

type metricsOptions struct {
	format      string
	output      string
	workers     int
	aggregate   bool
	noAggregate bool
	noCache     bool
}

func metricsCmd() *cobra.Command {
	opts := &metricsOptions{}
	cmd := &cobra.Command{
		Use:   "metrics [path...]",
		Short: "Report line counts and cyclomatic complexity",
		Long: `Measure files and directories: code, comment and blank lines per file,
and cyclomatic complexity, nesting depth and risk level per function.

Risk levels follow metrics.low_threshold and metrics.medium_threshold.
Totals are aggregated per directory and overall unless --no-aggregate is set.

Examples:
  sentinel metrics src/
  sentinel metrics --format json --no-aggregate src/main.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", string(domain.OutputFormatText), "Output format: text, json, yaml")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Files measured in parallel (default: analysis.workers)")
	cmd.Flags().BoolVar(&opts.aggregate, "aggregate", true, "Add per-directory and overall totals")
	cmd.Flags().BoolVar(&opts.noAggregate, "no-aggregate", false, "Report per-file metrics only")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Disable the AST cache")

	return cmd
}

func runMetrics(cmd *cobra.Command, args []string, opts *metricsOptions) error {
	format, err := domain.ParseOutputFormat(strings.ToLower(opts.format))
	if err != nil {
		return errorExit(err)
	}
	if format == domain.OutputFormatHTML {
		return errorExit(domain.NewUnsupportedFormatError(opts.format))
	}

	ov := service.ConfigOverrides{DisableCache: opts.noCache}
	if cmd.Flags().Changed("workers") {
		ov.Workers = &opts.workers
	}
	cfg, err := loadConfig(cmd, args[0], ov)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pm := service.NewProgressManager(format == domain.OutputFormatText && opts.output == "")
	defer pm.Close()

	rt, err := app.OpenRuntime(cfg, app.RuntimeOptions{NoCache: opts.noCache, NoStore: true, Progress: pm, Logger: logger})
	if err != nil {
		return errorExit(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	report, err := rt.MetricsUseCase(opts.aggregate && !opts.noAggregate).Execute(ctx, args)
	if err != nil {
		return errorExit(err)
	}

	w, closeOut, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	if err := service.NewOutputFormatter().WriteMetrics(report, format, w); err != nil {
		_ = closeOut()
		return errorExit(err)
	}
	if err := closeOut(); err != nil {
		return errorExit(err)
	}
	return nil
}
