package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/analyzer"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// DefaultFileTimeout bounds one file when the configuration leaves it unset
const DefaultFileTimeout = 30 * time.Second

// AnalysisOptions configure an AnalysisService
type AnalysisOptions struct {
	// Workers bounds the files analyzed at once; 0 means NumCPU
	Workers int
	// FileTimeout bounds the whole per-file pass
	FileTimeout    time.Duration
	GenerateFixes  bool
	MaxSuggestions int

	// Results and Trees are the result and AST caches; nil disables each
	Results analyzer.ResultStore
	Trees   parser.TreeStore
	// Extractors override the snapshot's extractor per language
	Extractors map[string]parser.Extractor

	Progress domain.ProgressManager
	Logger   *zap.Logger
	Now      func() time.Time
}

// AnalysisService runs a registry snapshot over a set of files with a
// bounded worker pool and aggregates the results into a session
type AnalysisService struct {
	opts   AnalysisOptions
	logger *zap.Logger
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(opts AnalysisOptions) *AnalysisService {
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
	return &AnalysisService{opts: opts, logger: logger}
}

// Analyze checks every file against snap. Per-file failures and timeouts are
// recorded in the session; the returned error is reserved for cancellation
// of ctx.
func (s *AnalysisService) Analyze(ctx context.Context, snap *rules.Snapshot, target string, files []string) (*domain.AnalysisSession, error) {
	session := &domain.AnalysisSession{
		ID:         uuid.NewString(),
		Target:     target,
		StartedAt:  s.opts.Now(),
		ConfigHash: snap.ConfigHash,
		Config:     snap.Config,
	}
	agg := NewAggregator(session, s.opts.MaxSuggestions)

	executor := analyzer.NewExecutor(snap, analyzer.ExecutorOptions{
		Results:       s.opts.Results,
		Trees:         s.opts.Trees,
		GenerateFixes: s.opts.GenerateFixes,
		Extractors:    s.opts.Extractors,
		Logger:        s.logger,
	})

	task := s.opts.Progress.StartTask("Analyzing files", len(files))
	defer task.Complete()

	s.logger.Info("analysis started",
		zap.String("session_id", session.ID),
		zap.String("target", target),
		zap.Int("files", len(files)),
		zap.Int("workers", s.opts.Workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.analyzeFile(gctx, executor, snap, path)
			if err != nil {
				return err
			}
			agg.Add(res)
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

	agg.Finish(s.opts.Now())
	s.logger.Info("analysis completed",
		zap.String("session_id", session.ID),
		zap.Int("findings", session.Summary.TotalFindings),
		zap.Int("cached", session.Summary.FilesCached),
		zap.Duration("duration", session.Duration()))
	return session, nil
}

// analyzeFile runs one file under its own timeout. Only cancellation of the
// session context is returned as an error.
func (s *AnalysisService) analyzeFile(ctx context.Context, executor *analyzer.Executor, snap *rules.Snapshot, path string) (domain.FileResult, error) {
	src, reason := readFile(snap, path, s.logger)
	if reason != "" {
		return domain.FileResult{Path: path, Skipped: true, SkipReason: reason}, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()
	res, err := executor.AnalyzeFile(fctx, path, src)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

// readFile applies the snapshot's path and size policy and reads one file.
// A non-empty reason means the file is skipped.
func readFile(snap *rules.Snapshot, path string, logger *zap.Logger) ([]byte, string) {
	if err := snap.Policy.CheckPath(path); err != nil {
		logger.Warn("skipping file outside the allowed paths", zap.String("path", path))
		return nil, err.Error()
	}
	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
		return nil, fmt.Sprintf("cannot read file: %v", err)
	}
	if !snap.Policy.AllowsSize(info.Size()) {
		logger.Warn("skipping file over size limit", zap.String("path", path), zap.Int64("size", info.Size()))
		return nil, fmt.Sprintf("file size %d exceeds the limit of %d bytes", info.Size(), snap.Policy.MaxFileSize)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
		return nil, fmt.Sprintf("cannot read file: %v", err)
	}
	return src, ""
}
