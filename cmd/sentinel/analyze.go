package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/constants"
	"github.com/ludo-technologies/sentinel/service"
)

type analyzeOptions struct {
	format     string
	output     string
	checks     []string
	failOn     string
	timeout    int
	workers    int
	noCache    bool
	noFixes    bool
	noStore    bool
	noSnippets bool
	watch      bool
}

func analyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [path...]",
		Short: "Analyze source files and report findings",
		Long: `Analyze files and directories with the configured checks.

Exit codes:
  0 - No findings at or above --fail-on
  1 - Findings at or above --fail-on
  2 - Analysis error (configuration, missing target, etc.)

Examples:
  sentinel analyze src/
  sentinel analyze --checks struct_naming,resource_lifetime src/
  sentinel analyze --format json --fail-on high src/ lib/
  sentinel analyze --watch src/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, json, yaml, html (default: first of reporting.formats)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringSliceVar(&opts.checks, "checks", nil, "Run only these checks (comma-separated ids)")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", string(domain.SeverityLow), "Exit 1 when a finding has at least this severity: low, medium, high")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "Per-file analysis timeout in seconds (default: analysis.timeout)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Files analyzed in parallel (default: analysis.workers)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Disable the AST and result caches")
	cmd.Flags().BoolVar(&opts.noFixes, "no-fix-suggestions", false, "Do not generate fix suggestions")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "Do not persist the session to the findings store")
	cmd.Flags().BoolVar(&opts.noSnippets, "no-snippets", false, "Omit source snippets from the report")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-analyze changed files until interrupted")

	return cmd
}

func (o *analyzeOptions) overrides(cmd *cobra.Command) service.ConfigOverrides {
	ov := service.ConfigOverrides{
		DisableCache: o.noCache,
		DisableFixes: o.noFixes,
	}
	if cmd.Flags().Changed("timeout") {
		ov.TimeoutSeconds = &o.timeout
	}
	if cmd.Flags().Changed("workers") {
		ov.Workers = &o.workers
	}
	if o.noSnippets {
		off := false
		ov.IncludeSnippets = &off
	}
	return ov
}

func runAnalyze(cmd *cobra.Command, args []string, opts *analyzeOptions) error {
	failOn, err := domain.ParseSeverity(opts.failOn)
	if err != nil {
		return errorExit(err)
	}

	cfg, err := loadConfig(cmd, args[0], opts.overrides(cmd))
	if err != nil {
		return err
	}
	format, err := reportFormat(cfg, opts.format)
	if err != nil {
		return errorExit(err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pm := service.NewProgressManager(format == domain.OutputFormatText && opts.output == "" && !opts.watch)
	defer pm.Close()

	rt, err := app.OpenRuntime(cfg, app.RuntimeOptions{NoCache: opts.noCache, NoStore: opts.noStore, Progress: pm, Logger: logger})
	if err != nil {
		return errorExit(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	uc, err := rt.AnalyzeUseCase(opts.checks)
	if err != nil {
		return errorExit(err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reportOpts := domain.ReportOptions{
		IncludeSnippets: cfg.Reporting.IncludeSnippets,
		MaxSuggestions:  cfg.Reporting.MaxSuggestions,
	}

	if opts.watch {
		return watchAndAnalyze(ctx, cmd, rt, uc, args, format, reportOpts, logger)
	}

	session, err := uc.Execute(ctx, args)
	if err != nil {
		return errorExit(err)
	}

	w, closeOut, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	if err := service.NewOutputFormatter().WriteSession(session, format, reportOpts, w); err != nil {
		_ = closeOut()
		return errorExit(err)
	}
	if err := closeOut(); err != nil {
		return errorExit(err)
	}

	if n := countAtLeast(session.Findings, failOn); n > 0 {
		return &ExitError{Code: constants.ExitFindings}
	}
	return nil
}

// watchAndAnalyze analyzes the targets once, then re-analyzes changed files
// until ctx is done. Errors of single runs are reported and watching goes on.
func watchAndAnalyze(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, uc *app.AnalyzeUseCase, targets []string, format domain.OutputFormat, reportOpts domain.ReportOptions, logger *zap.Logger) error {
	formatter := service.NewOutputFormatter()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	helper := app.NewFileHelper()

	report := func(ctx context.Context, paths []string) {
		session, err := uc.Execute(ctx, paths)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(errOut, "Error: %v\n", err)
			}
			return
		}
		if err := formatter.WriteSession(session, format, reportOpts, out); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}

	report(ctx, targets)

	snap := rt.Registry.Snapshot()
	skip := func(path string, isDir bool) bool {
		base := filepath.Base(path)
		if isDir {
			return strings.HasPrefix(base, ".") || containsString(rt.Config.Analysis.ExcludePatterns, base)
		}
		_, ok := snap.LanguageForPath(path)
		return !ok
	}

	roots := helper.WatchRoots(targets)
	fmt.Fprintf(errOut, "Watching %s for changes (Ctrl+C to stop)\n", strings.Join(roots, ", "))

	watcher := service.NewWatcher(roots, service.DefaultWatchDebounce, skip, logger)
	err := watcher.Run(ctx, func(ctx context.Context, paths []string) {
		files := helper.ExistingFiles(paths)
		if len(files) == 0 {
			return
		}
		fmt.Fprintf(errOut, "\n%d file(s) changed, re-analyzing\n", len(files))
		report(ctx, files)
	})
	if err != nil {
		return errorExit(err)
	}
	return nil
}

// reportFormat picks the flag value, else the first configured format
func reportFormat(cfg *config.Config, flag string) (domain.OutputFormat, error) {
	name := flag
	if name == "" && len(cfg.Reporting.Formats) > 0 {
		name = cfg.Reporting.Formats[0]
	}
	if name == "" {
		name = string(domain.OutputFormatText)
	}
	return domain.ParseOutputFormat(strings.ToLower(name))
}

func countAtLeast(findings []domain.Finding, min domain.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity.AtLeast(min) {
			n++
		}
	}
	return n
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
