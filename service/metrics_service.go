package service

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/analyzer"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// MetricsOptions configure a MetricsService
type MetricsOptions struct {
	// Workers bounds the files measured at once; 0 means NumCPU
	Workers     int
	FileTimeout time.Duration
	// Aggregate adds per-directory and overall totals to the report
	Aggregate bool

	Trees      parser.TreeStore
	Extractors map[string]parser.Extractor

	Progress domain.ProgressManager
	Logger   *zap.Logger
	Now      func() time.Time
}

// MetricsService measures line counts and function complexity over a set
// of files with a bounded worker pool
type MetricsService struct {
	opts   MetricsOptions
	logger *zap.Logger
}

// NewMetricsService creates a metrics service
func NewMetricsService(opts MetricsOptions) *MetricsService {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = DefaultFileTimeout
	}
	if opts.Progress == nil {
		opts.Progress = &NoOpProgressManager{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsService{opts: opts, logger: logger}
}

// Measure computes the metrics of every file. Unreadable and unsupported
// files are reported as skipped; the returned error is reserved for
// cancellation of ctx.
func (s *MetricsService) Measure(ctx context.Context, snap *rules.Snapshot, target string, files []string) (*domain.MetricsReport, error) {
	report := &domain.MetricsReport{
		Target:      target,
		GeneratedAt: s.opts.Now(),
		ConfigHash:  snap.ConfigHash,
	}
	measurer := analyzer.NewMeasurer(snap, analyzer.MeasurerOptions{
		Trees:      s.opts.Trees,
		Extractors: s.opts.Extractors,
		Logger:     s.logger,
	})

	task := s.opts.Progress.StartTask("Measuring files", len(files))
	defer task.Complete()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fm, err := s.measureFile(gctx, measurer, snap, path)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Files = append(report.Files, fm)
			mu.Unlock()
			task.Increment(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domain.SortFileMetrics(report.Files)
	if s.opts.Aggregate {
		report.Directories, report.Totals = AggregateMetrics(report.Files)
	}
	s.logger.Info("metrics completed",
		zap.String("target", target),
		zap.Int("files", len(report.Files)))
	return report, nil
}

func (s *MetricsService) measureFile(ctx context.Context, measurer *analyzer.Measurer, snap *rules.Snapshot, path string) (domain.FileMetrics, error) {
	src, reason := readFile(snap, path, s.logger)
	if reason != "" {
		return domain.FileMetrics{Path: path, Skipped: true, SkipReason: reason}, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()
	fm, err := measurer.MeasureFile(fctx, path, src)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return fm, ctx.Err()
		}
		// the file's own budget ran out; keep what was counted
		s.logger.Warn("file measurement timed out", zap.String("path", path), zap.Error(err))
		fm.ParseTimedOut = true
	}
	return fm, nil
}

// AggregateMetrics sums files per directory and overall. Directories are
// sorted by path.
func AggregateMetrics(files []domain.FileMetrics) ([]domain.DirectoryMetrics, *domain.MetricsTotals) {
	totals := domain.NewMetricsTotals()
	byDir := make(map[string]*domain.MetricsTotals)
	for _, f := range files {
		totals.Add(f)
		dir := filepath.Dir(f.Path)
		t, ok := byDir[dir]
		if !ok {
			nt := domain.NewMetricsTotals()
			t = &nt
			byDir[dir] = t
		}
		t.Add(f)
	}

	dirs := make([]domain.DirectoryMetrics, 0, len(byDir))
	for path, t := range byDir {
		dirs = append(dirs, domain.DirectoryMetrics{Path: path, Totals: *t})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
	return dirs, &totals
}
