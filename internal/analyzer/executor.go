package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/cache"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// ResultStore caches per-file results keyed by path and validated by content hash
type ResultStore interface {
	Get(ctx context.Context, key, contentHash string) ([]byte, bool)
	Put(ctx context.Context, key, contentHash string, payload []byte) error
	Delete(key string)
}

// issue is a check result before it becomes a Finding
type issue struct {
	def     *rules.CheckDefinition
	span    domain.Span
	subject string
	message string
	related []domain.Span
	hint    []string
	double  bool
}

// ExecutorOptions configures an Executor. Nil caches disable caching.
type ExecutorOptions struct {
	Results       ResultStore
	Trees         parser.TreeStore
	GenerateFixes bool
	// Extractors replace the snapshot's extractor per language
	Extractors map[string]parser.Extractor
	Logger     *zap.Logger
}

// Executor runs the checks of one snapshot against single files
type Executor struct {
	snap          *rules.Snapshot
	results       ResultStore
	trees         parser.TreeStore
	generateFixes bool
	extractors    map[string]parser.Extractor
	logger        *zap.Logger
}

// NewExecutor creates an executor bound to a registry snapshot
func NewExecutor(snap *rules.Snapshot, opts ExecutorOptions) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		snap:          snap,
		results:       opts.Results,
		trees:         opts.Trees,
		generateFixes: opts.GenerateFixes,
		extractors:    opts.Extractors,
		logger:        logger,
	}
}

// Snapshot returns the snapshot the executor evaluates
func (e *Executor) Snapshot() *rules.Snapshot {
	return e.snap
}

// cachedResult is the result cache payload
type cachedResult struct {
	Language      string           `json:"language"`
	Findings      []domain.Finding `json:"findings"`
	ParseFailed   bool             `json:"parse_failed,omitempty"`
	ParseTimedOut bool             `json:"parse_timeout,omitempty"`
}

// ResultCacheKey builds the result cache key of a file under a configuration
func ResultCacheKey(configHash, path string, fixes bool) string {
	mode := "plain"
	if fixes {
		mode = "fixes"
	}
	return "result:" + configHash + ":" + mode + ":" + path
}

// AnalyzeFile runs every enabled check of the file's language. Check faults
// become findings; the returned error is reserved for cancellation of the
// caller's context.
func (e *Executor) AnalyzeFile(ctx context.Context, path string, src []byte) (domain.FileResult, error) {
	result := domain.FileResult{Path: path}

	lang, ok := e.snap.LanguageForPath(path)
	if !ok {
		result.Skipped = true
		result.SkipReason = "unsupported file type"
		return result, nil
	}
	result.Language = lang
	if !e.snap.Policy.AllowsSize(int64(len(src))) {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("file size %d exceeds the limit of %d bytes", len(src), e.snap.Policy.MaxFileSize)
		e.logger.Warn("skipping file over size limit", zap.String("path", path), zap.Int("size", len(src)))
		return result, nil
	}

	hash := cache.HashContent(src)
	result.ContentHash = hash
	key := ResultCacheKey(e.snap.ConfigHash, path, e.generateFixes)

	if e.results != nil {
		if payload, hit := e.results.Get(ctx, key, hash); hit {
			var cached cachedResult
			if err := json.Unmarshal(payload, &cached); err == nil {
				e.logger.Debug("result cache hit", zap.String("path", path))
				result.Findings = cached.Findings
				result.ParseFailed = cached.ParseFailed
				result.ParseTimedOut = cached.ParseTimedOut
				result.FromCache = true
				return result, nil
			}
			e.logger.Debug("dropping undecodable cached result", zap.String("path", path))
			e.results.Delete(key)
		}
	}

	findings, parseFailed, parseTimedOut := e.run(ctx, lang, path, src)
	if err := ctx.Err(); err != nil {
		// the file's budget ran out; partial results are neither reported nor cached
		result.TimedOut = true
		e.logger.Warn("file analysis timed out", zap.String("path", path), zap.Error(err))
		if errors.Is(err, context.Canceled) {
			return result, err
		}
		return result, nil
	}

	result.Findings = findings
	result.ParseFailed = parseFailed
	result.ParseTimedOut = parseTimedOut

	if e.results != nil && !parseTimedOut {
		payload, err := json.Marshal(cachedResult{
			Language:      lang,
			Findings:      findings,
			ParseFailed:   parseFailed,
			ParseTimedOut: parseTimedOut,
		})
		if err == nil {
			if err := e.results.Put(ctx, key, hash, payload); err != nil {
				e.logger.Debug("result cache store failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
	return result, nil
}

// run extracts the tree and evaluates the checks concurrently
func (e *Executor) run(ctx context.Context, lang, path string, src []byte) ([]domain.Finding, bool, bool) {
	defs := e.snap.Checks(lang)
	ls, _ := e.snap.Language(lang)
	if override, ok := e.extractors[lang]; ok {
		ls.Extractor = override
	}

	var findings []domain.Finding
	var root *parser.Node
	parseFailed, parseTimedOut := false, false

	if needsTree(defs) && ls.Extractor != nil {
		var extractor parser.Extractor = ls.Extractor
		if ls.CacheASTs && e.trees != nil {
			extractor = parser.NewCachingExtractor(ls.Extractor, e.trees, e.logger)
		}
		node, err := parser.ExtractWithTimeout(ctx, extractor, path, src, ls.ASTTimeout)
		switch {
		case err == nil:
			root = node
		case domain.IsCode(err, domain.ErrCodeParseTimeout):
			parseTimedOut = true
			e.logger.Warn("parse timed out, running regex checks only",
				zap.String("path", path), zap.Duration("budget", ls.ASTTimeout))
		default:
			parseFailed = true
			findings = append(findings, parseErrorFinding(path, err))
			e.logger.Debug("parse failed, running regex checks only", zap.String("path", path), zap.Error(err))
		}
	}

	lines := splitLines(src)

	perCheck := make([][]issue, len(defs))
	faults := make([]*domain.Finding, len(defs))
	var g errgroup.Group
	for i, def := range defs {
		if def.Category == domain.CategoryAST && root == nil {
			continue
		}
		g.Go(func() error {
			issues, fault := e.runCheck(ctx, def, path, root, lines)
			perCheck[i] = issues
			faults[i] = fault
			return nil
		})
	}
	_ = g.Wait()

	for i, issues := range perCheck {
		if faults[i] != nil {
			findings = append(findings, *faults[i])
			continue
		}
		for _, is := range issues {
			findings = append(findings, e.toFinding(path, is, lines))
		}
	}

	domain.SortFindings(findings)
	return findings, parseFailed, parseTimedOut
}

// runCheck evaluates one check, turning panics and errors into a fault finding
func (e *Executor) runCheck(ctx context.Context, def *rules.CheckDefinition, path string, root *parser.Node, lines []sourceLine) (issues []issue, fault *domain.Finding) {
	var mu sync.Mutex
	emit := func(is issue) {
		mu.Lock()
		issues = append(issues, is)
		mu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("check panicked",
				zap.String("check", def.ID), zap.String("path", path),
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			f := checkFaultFinding(path, def, fmt.Errorf("panic: %v", r))
			issues, fault = nil, &f
		}
	}()

	var err error
	if def.Category == domain.CategoryAST {
		err = checkAST(ctx, def, root, emit)
	} else {
		err = checkRegex(ctx, def, path, lines, emit)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		e.logger.Warn("check failed", zap.String("check", def.ID), zap.String("path", path), zap.Error(err))
		f := checkFaultFinding(path, def, err)
		return nil, &f
	}
	return issues, nil
}

func (e *Executor) toFinding(path string, is issue, lines []sourceLine) domain.Finding {
	span := is.span
	span.File = path
	f := domain.Finding{
		Path:     path,
		Span:     span,
		CheckID:  is.def.ID,
		Category: is.def.Category,
		Severity: is.def.Severity,
		Message:  is.message,
		Snippet:  snippetAt(lines, span.StartLine),
		Related:  is.related,
	}
	if e.generateFixes {
		f.Suggestions = suggestFixes(is)
	}
	f.AssignID()
	return f
}

func parseErrorFinding(path string, err error) domain.Finding {
	span := domain.Span{File: path, StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 1}
	msg := err.Error()
	if se, ok := parser.SyntaxErrorFrom(err); ok {
		span.StartLine, span.StartCol = se.Line, se.Col
		span.EndLine, span.EndCol = se.Line, se.Col
		msg = "syntax error: " + se.Message
	}
	f := domain.Finding{
		Path:     path,
		Span:     span,
		CheckID:  domain.CheckIDParseError,
		Category: domain.CategoryAST,
		Severity: domain.SeverityHigh,
		Message:  msg,
	}
	f.AssignID()
	return f
}

func checkFaultFinding(path string, def *rules.CheckDefinition, err error) domain.Finding {
	f := domain.Finding{
		Path:     path,
		Span:     domain.Span{File: path, StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 1},
		CheckID:  domain.CheckIDCheckExecutionError,
		Category: def.Category,
		Severity: domain.SeverityHigh,
		Message:  domain.NewCheckExecutionError(def.ID, err).Error(),
	}
	f.AssignID()
	return f
}

func snippetAt(lines []sourceLine, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1].text)
}

func needsTree(defs []*rules.CheckDefinition) bool {
	for _, d := range defs {
		if d.Category == domain.CategoryAST {
			return true
		}
	}
	return false
}
