package app

import (
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/cache"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/constants"
	"github.com/ludo-technologies/sentinel/internal/rules"
	"github.com/ludo-technologies/sentinel/internal/store"
	"github.com/ludo-technologies/sentinel/service"
)

// RuntimeOptions select which long-lived resources a Runtime opens
type RuntimeOptions struct {
	NoCache  bool
	NoStore  bool
	Progress domain.ProgressManager
	Logger   *zap.Logger
}

// Runtime owns the registry, caches and findings store built from one
// configuration and hands out use cases sharing them
type Runtime struct {
	Config   *config.Config
	Registry *rules.Registry
	Results  *cache.Cache
	Trees    *cache.Cache
	Store    *store.Store

	progress domain.ProgressManager
	logger   *zap.Logger
}

// OpenRuntime validates cfg into a registry and opens the caches and store
// it enables. Configuration problems fail here, before any analysis.
func OpenRuntime(cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := rules.NewRegistry(cfg, rules.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Registry: registry, progress: opts.Progress, logger: logger}

	if cfg.Cache.Enabled && !opts.NoCache {
		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		if cfg.Analysis.CacheEnabled {
			rt.Results, err = cache.New(cache.Options{
				Dir:      filepath.Join(cfg.Cache.Directory, constants.CacheDirResults),
				MaxBytes: int64(cfg.Cache.MaxSizeMB) << 20,
				TTL:      ttl,
				Logger:   logger.Named("results"),
			})
			if err != nil {
				return nil, domain.NewConfigError("failed to open result cache", err)
			}
		}
		rt.Trees, err = cache.New(cache.Options{
			Dir:      filepath.Join(cfg.Cache.Directory, constants.CacheDirAST),
			MaxBytes: astCacheBudget(cfg),
			TTL:      ttl,
			Logger:   logger.Named("ast"),
		})
		if err != nil {
			_ = rt.Close()
			return nil, domain.NewConfigError("failed to open AST cache", err)
		}
	}

	if !opts.NoStore {
		rt.Store, err = store.NewStore(cfg.Store.Path, store.WithLogger(logger))
		if err != nil {
			_ = rt.Close()
			return nil, domain.NewStoreError("failed to open findings store", err)
		}
	}
	return rt, nil
}

// astCacheBudget is the largest per-language AST cache size
func astCacheBudget(cfg *config.Config) int64 {
	var mb int
	for _, lc := range cfg.Languages {
		if lc.ASTAnalysis.MaxASTCacheSizeMB > mb {
			mb = lc.ASTAnalysis.MaxASTCacheSizeMB
		}
	}
	return int64(mb) << 20
}

// AnalysisService builds a service over the runtime's caches
func (rt *Runtime) AnalysisService() *service.AnalysisService {
	opts := service.AnalysisOptions{
		Workers:        rt.Config.Analysis.Workers,
		FileTimeout:    time.Duration(rt.Config.Analysis.Timeout) * time.Second,
		GenerateFixes:  rt.Config.Analysis.GenerateFixes,
		MaxSuggestions: rt.Config.Reporting.MaxSuggestions,
		Progress:       rt.progress,
		Logger:         rt.logger,
	}
	// typed nils must not reach the interface fields
	if rt.Results != nil {
		opts.Results = rt.Results
	}
	if rt.Trees != nil {
		opts.Trees = rt.Trees
	}
	return service.NewAnalysisService(opts)
}

// AnalyzeUseCase builds an analyze use case, optionally restricted to checks
func (rt *Runtime) AnalyzeUseCase(checks []string) (*AnalyzeUseCase, error) {
	b := NewAnalyzeUseCaseBuilder().
		WithRegistry(rt.Registry).
		WithService(rt.AnalysisService()).
		WithFileCollector(service.NewFileCollector(rt.Config.Analysis.ExcludePatterns, rt.Config.Analysis.RespectGitignore, rt.logger)).
		WithChecks(checks).
		WithLogger(rt.logger)
	if rt.Store != nil {
		b = b.WithStore(rt.Store)
	}
	return b.Build()
}

// MetricsService builds a metrics service over the runtime's AST cache
func (rt *Runtime) MetricsService(aggregate bool) *service.MetricsService {
	opts := service.MetricsOptions{
		Workers:     rt.Config.Analysis.Workers,
		FileTimeout: time.Duration(rt.Config.Analysis.Timeout) * time.Second,
		Aggregate:   aggregate,
		Progress:    rt.progress,
		Logger:      rt.logger,
	}
	if rt.Trees != nil {
		opts.Trees = rt.Trees
	}
	return service.NewMetricsService(opts)
}

// MetricsUseCase builds a metrics use case
func (rt *Runtime) MetricsUseCase(aggregate bool) *MetricsUseCase {
	collector := service.NewFileCollector(rt.Config.Analysis.ExcludePatterns, rt.Config.Analysis.RespectGitignore, rt.logger)
	return NewMetricsUseCase(rt.Registry, rt.MetricsService(aggregate), collector, nil)
}

// QueryUseCase builds a query use case over the findings store
func (rt *Runtime) QueryUseCase() (*QueryUseCase, error) {
	if rt.Store == nil {
		return nil, domain.NewConfigError("querying requires the findings store", nil)
	}
	return NewQueryUseCase(service.NewQueryService(rt.Store, rt.Config.Query, rt.logger)), nil
}

// Close flushes the caches and closes the store
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Results != nil {
		errs = append(errs, rt.Results.Close())
	}
	if rt.Trees != nil {
		errs = append(errs, rt.Trees.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
