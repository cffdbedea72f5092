package analyzer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// MeasurerOptions configures a Measurer. A nil tree store disables AST caching.
type MeasurerOptions struct {
	Trees      parser.TreeStore
	Extractors map[string]parser.Extractor
	Logger     *zap.Logger
}

// Measurer computes line counts and per-function complexity of single files
type Measurer struct {
	snap       *rules.Snapshot
	trees      parser.TreeStore
	extractors map[string]parser.Extractor
	complexity *ComplexityAnalyzer
	logger     *zap.Logger
}

// NewMeasurer creates a measurer bound to a registry snapshot. Risk
// thresholds come from the snapshot's metrics settings.
func NewMeasurer(snap *rules.Snapshot, opts MeasurerOptions) *Measurer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var thresholds *config.MetricsConfig
	if snap.Settings != nil && snap.Settings.Metrics.LowThreshold > 0 {
		thresholds = &snap.Settings.Metrics
	}
	return &Measurer{
		snap:       snap,
		trees:      opts.Trees,
		extractors: opts.Extractors,
		complexity: NewComplexityAnalyzer(thresholds),
		logger:     logger,
	}
}

// MeasureFile measures one file. Parse failures leave the line counts in
// place and drop the function metrics; the returned error is reserved for
// cancellation of the caller's context.
func (m *Measurer) MeasureFile(ctx context.Context, path string, src []byte) (domain.FileMetrics, error) {
	result := domain.FileMetrics{Path: path}

	lang, ok := m.snap.LanguageForPath(path)
	if !ok {
		result.Skipped = true
		result.SkipReason = "unsupported file type"
		return result, nil
	}
	result.Language = lang
	if !m.snap.Policy.AllowsSize(int64(len(src))) {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("file size %d exceeds the limit of %d bytes", len(src), m.snap.Policy.MaxFileSize)
		return result, nil
	}

	result.Lines = CountLines(src, lang)

	ls, _ := m.snap.Language(lang)
	if override, ok := m.extractors[lang]; ok {
		ls.Extractor = override
	}
	if !parser.SupportsCapability(ls.Extractor, parser.CapabilityCFG) {
		return result, nil
	}

	var extractor parser.Extractor = ls.Extractor
	if ls.CacheASTs && m.trees != nil {
		extractor = parser.NewCachingExtractor(ls.Extractor, m.trees, m.logger)
	}
	root, err := parser.ExtractWithTimeout(ctx, extractor, path, src, ls.ASTTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if domain.IsCode(err, domain.ErrCodeParseTimeout) {
			result.ParseTimedOut = true
		} else {
			result.ParseFailed = true
		}
		m.logger.Debug("no function metrics, parse failed", zap.String("path", path), zap.Error(err))
		return result, nil
	}

	complexities, err := m.complexity.AnalyzeFile(root)
	if err != nil {
		m.logger.Warn("complexity analysis failed", zap.String("path", path), zap.Error(err))
		return result, nil
	}
	for _, c := range complexities {
		fn := c.Metrics()
		fn.Span.File = path
		result.Functions = append(result.Functions, fn)
	}
	return result, nil
}

// commentStyle describes the comment syntax of a language
type commentStyle struct {
	line       []string
	blockStart string
	blockEnd   string
}

var (
	hashComments = commentStyle{line: []string{"#"}}
	cComments    = commentStyle{line: []string{"//"}, blockStart: "/*", blockEnd: "*/"}
)

func commentStyleFor(language string) commentStyle {
	switch language {
	case "python", "mojo", "ruby", "shell", "bash", "yaml", "toml":
		return hashComments
	}
	return cComments
}

// CountLines splits a file into code, comment and blank lines. A line with
// code and a trailing comment is code.
func CountLines(src []byte, language string) domain.LineCounts {
	style := commentStyleFor(language)
	var counts domain.LineCounts
	inBlock := false
	for _, l := range splitLines(src) {
		counts.Total++
		text := strings.TrimSpace(l.text)
		switch {
		case inBlock:
			counts.Comment++
			if i := strings.Index(text, style.blockEnd); i >= 0 {
				inBlock = false
				if strings.TrimSpace(text[i+len(style.blockEnd):]) != "" {
					counts.Comment--
					counts.Code++
				}
			}
		case text == "":
			counts.Blank++
		case hasAnyPrefix(text, style.line):
			counts.Comment++
		case style.blockStart != "" && strings.HasPrefix(text, style.blockStart):
			counts.Comment++
			rest := text[len(style.blockStart):]
			if i := strings.Index(rest, style.blockEnd); i < 0 {
				inBlock = true
			} else if strings.TrimSpace(rest[i+len(style.blockEnd):]) != "" {
				counts.Comment--
				counts.Code++
			}
		default:
			counts.Code++
		}
	}
	return counts
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
