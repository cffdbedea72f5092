package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/service"
)

type queryOptions struct {
	req    app.QueryRequest
	format string
	output string
}

func queryCmd() *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query findings of persisted sessions",
		Long: `Query findings recorded by earlier analyze runs.

Results are ordered by path and line and bounded by --max-results and
--timeout; a query that runs out of time reports the findings read so far.

Examples:
  sentinel query --severity high
  sentinel query --category ast --path-prefix src/ --since 24h
  sentinel query --session 3f1c... --check resource_lifetime --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.req.Severity, "severity", "", "Minimum severity: low, medium, high")
	cmd.Flags().StringSliceVar(&opts.req.Categories, "category", nil, "Check categories: ast, regex")
	cmd.Flags().StringVar(&opts.req.PathPrefix, "path-prefix", "", "Only findings whose path starts with this prefix")
	cmd.Flags().StringVar(&opts.req.SessionID, "session", "", "Only findings of this session")
	cmd.Flags().StringSliceVar(&opts.req.CheckIDs, "check", nil, "Only findings of these checks")
	cmd.Flags().StringVar(&opts.req.Since, "since", "", "Sessions started at or after (RFC 3339, date or duration ago)")
	cmd.Flags().StringVar(&opts.req.Until, "until", "", "Sessions started at or before (RFC 3339, date or duration ago)")
	cmd.Flags().IntVar(&opts.req.MaxResults, "max-results", 0, "Maximum findings returned (default: query.max_results)")
	cmd.Flags().DurationVar(&opts.req.Timeout, "timeout", 0, "Query time budget (default: query.timeout_seconds)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(domain.OutputFormatText), "Output format: text, json, yaml, html")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the result to a file instead of stdout")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *queryOptions) error {
	format, err := domain.ParseOutputFormat(opts.format)
	if err != nil {
		return errorExit(err)
	}
	cfg, err := loadConfig(cmd, "", service.ConfigOverrides{})
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := app.OpenRuntime(cfg, app.RuntimeOptions{NoCache: true, Logger: logger})
	if err != nil {
		return errorExit(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	uc, err := rt.QueryUseCase()
	if err != nil {
		return errorExit(err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	start := time.Now()
	res, err := uc.ExecuteRequest(ctx, opts.req)
	if err != nil {
		return errorExit(err)
	}
	logger.Debug("query finished", zap.Int("findings", len(res.Findings)), zap.Duration("elapsed", time.Since(start)))

	w, closeOut, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	reportOpts := domain.ReportOptions{
		IncludeSnippets: cfg.Reporting.IncludeSnippets,
		MaxSuggestions:  cfg.Reporting.MaxSuggestions,
	}
	if err := service.NewOutputFormatter().WriteQueryResult(res, format, reportOpts, w); err != nil {
		_ = closeOut()
		return errorExit(err)
	}
	if err := closeOut(); err != nil {
		return errorExit(err)
	}
	return nil
}
