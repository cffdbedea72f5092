package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/rules"
	"github.com/ludo-technologies/sentinel/service"
)

// AnalyzeUseCase orchestrates one analysis session: snapshot capture, file
// collection, execution and persistence
type AnalyzeUseCase struct {
	registry   *rules.Registry
	service    *service.AnalysisService
	collector  *service.FileCollector
	store      domain.FindingStore
	fileHelper *FileHelper
	checks     []string
	logger     *zap.Logger
}

// Execute analyzes paths with the registry snapshot current at call time.
// A single target that cannot be read yields a ParseError; an invalid check
// selection yields a ConfigError.
func (uc *AnalyzeUseCase) Execute(ctx context.Context, paths []string) (*domain.AnalysisSession, error) {
	if len(paths) == 0 {
		return nil, domain.NewInvalidInputError("no input paths specified", nil)
	}

	snap, err := uc.registry.Snapshot().Restrict(uc.checks)
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		if err := snap.Policy.CheckPath(p); err != nil {
			return nil, err
		}
	}
	if len(paths) == 1 {
		if err := uc.fileHelper.CheckReadable(paths[0]); err != nil {
			return nil, err
		}
	}

	files, err := ResolveFilePaths(uc.fileHelper, uc.collector, paths, snap)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, domain.NewInvalidInputError("no supported source files found in the specified paths", nil)
	}

	session, err := uc.service.Analyze(ctx, snap, strings.Join(paths, " "), files)
	if err != nil {
		return nil, domain.NewAnalysisError("analysis interrupted", err)
	}

	if uc.store != nil {
		if err := uc.store.SaveSession(ctx, session); err != nil {
			uc.logger.Error("failed to persist session", zap.String("session_id", session.ID), zap.Error(err))
			return nil, err
		}
		uc.logger.Debug("session persisted", zap.String("session_id", session.ID))
	}
	return session, nil
}

// AnalyzeUseCaseBuilder builds an AnalyzeUseCase
type AnalyzeUseCaseBuilder struct {
	registry   *rules.Registry
	service    *service.AnalysisService
	collector  *service.FileCollector
	store      domain.FindingStore
	fileHelper *FileHelper
	checks     []string
	logger     *zap.Logger
}

// NewAnalyzeUseCaseBuilder creates a new builder
func NewAnalyzeUseCaseBuilder() *AnalyzeUseCaseBuilder {
	return &AnalyzeUseCaseBuilder{}
}

// WithRegistry sets the rule registry
func (b *AnalyzeUseCaseBuilder) WithRegistry(r *rules.Registry) *AnalyzeUseCaseBuilder {
	b.registry = r
	return b
}

// WithService sets the analysis service
func (b *AnalyzeUseCaseBuilder) WithService(s *service.AnalysisService) *AnalyzeUseCaseBuilder {
	b.service = s
	return b
}

// WithFileCollector sets the collector used for directory targets
func (b *AnalyzeUseCaseBuilder) WithFileCollector(c *service.FileCollector) *AnalyzeUseCaseBuilder {
	b.collector = c
	return b
}

// WithStore sets the findings store; nil disables persistence
func (b *AnalyzeUseCaseBuilder) WithStore(s domain.FindingStore) *AnalyzeUseCaseBuilder {
	b.store = s
	return b
}

// WithFileHelper sets the file helper
func (b *AnalyzeUseCaseBuilder) WithFileHelper(fh *FileHelper) *AnalyzeUseCaseBuilder {
	b.fileHelper = fh
	return b
}

// WithChecks restricts sessions to the named checks
func (b *AnalyzeUseCaseBuilder) WithChecks(ids []string) *AnalyzeUseCaseBuilder {
	b.checks = ids
	return b
}

// WithLogger sets the logger
func (b *AnalyzeUseCaseBuilder) WithLogger(l *zap.Logger) *AnalyzeUseCaseBuilder {
	b.logger = l
	return b
}

// Build creates the AnalyzeUseCase
func (b *AnalyzeUseCaseBuilder) Build() (*AnalyzeUseCase, error) {
	if b.registry == nil {
		return nil, domain.NewConfigError("analyze use case requires a rule registry", nil)
	}
	if b.service == nil {
		return nil, domain.NewConfigError("analyze use case requires an analysis service", nil)
	}

	uc := &AnalyzeUseCase{
		registry:   b.registry,
		service:    b.service,
		collector:  b.collector,
		store:      b.store,
		fileHelper: b.fileHelper,
		checks:     b.checks,
		logger:     b.logger,
	}
	if uc.fileHelper == nil {
		uc.fileHelper = NewFileHelper()
	}
	if uc.logger == nil {
		uc.logger = zap.NewNop()
	}
	if uc.collector == nil {
		cfg := b.registry.Snapshot().Settings
		uc.collector = service.NewFileCollector(cfg.Analysis.ExcludePatterns, cfg.Analysis.RespectGitignore, uc.logger)
	}
	return uc, nil
}
