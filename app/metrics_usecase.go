package app

import (
	"context"
	"strings"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/rules"
	"github.com/ludo-technologies/sentinel/service"
)

// MetricsUseCase measures line counts and function complexity of a set of
// paths under the registry snapshot current at call time
type MetricsUseCase struct {
	registry   *rules.Registry
	service    *service.MetricsService
	collector  *service.FileCollector
	fileHelper *FileHelper
}

// NewMetricsUseCase creates a metrics use case. A nil collector or file
// helper is replaced by one built from the registry's settings.
func NewMetricsUseCase(registry *rules.Registry, svc *service.MetricsService, collector *service.FileCollector, fileHelper *FileHelper) *MetricsUseCase {
	if fileHelper == nil {
		fileHelper = NewFileHelper()
	}
	if collector == nil {
		cfg := registry.Snapshot().Settings
		collector = service.NewFileCollector(cfg.Analysis.ExcludePatterns, cfg.Analysis.RespectGitignore, nil)
	}
	return &MetricsUseCase{registry: registry, service: svc, collector: collector, fileHelper: fileHelper}
}

// Execute measures paths. Path and readability errors match AnalyzeUseCase.
func (uc *MetricsUseCase) Execute(ctx context.Context, paths []string) (*domain.MetricsReport, error) {
	if len(paths) == 0 {
		return nil, domain.NewInvalidInputError("no input paths specified", nil)
	}

	snap := uc.registry.Snapshot()
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

	report, err := uc.service.Measure(ctx, snap, strings.Join(paths, " "), files)
	if err != nil {
		return nil, domain.NewAnalysisError("metrics interrupted", err)
	}
	return report, nil
}
