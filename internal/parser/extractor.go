package parser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
)

// Parser backends selectable per language through ast_analysis.parser
const (
	ParserTreeSitter = "tree-sitter"
	ParserOutline    = "outline"
	ParserNone       = "none"
)

// Extractor turns raw source into a generic AST.
type Extractor interface {
	// Language returns the configured language name
	Language() string
	// Capabilities lists the attribute keys (and CapabilityCFG) this extractor supplies
	Capabilities() []string
	// Extract parses src. It returns a ParseError or ParseTimeout domain error on failure.
	Extract(ctx context.Context, path string, src []byte) (*Node, error)
}

// SyntaxError locates the first malformed construct in a file
type SyntaxError struct {
	Line    int
	Col     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Col, e.Message)
}

// SyntaxErrorFrom returns the SyntaxError wrapped in err, if any
func SyntaxErrorFrom(err error) (*SyntaxError, bool) {
	var se *SyntaxError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var errExtractCancelled = errors.New("extraction cancelled")

// NewExtractor returns the extractor for a language and parser backend.
// It returns nil and no error for ParserNone.
func NewExtractor(language, backend string) (Extractor, error) {
	switch backend {
	case ParserNone, "":
		return nil, nil
	case ParserOutline:
		return NewOutlineExtractor(language), nil
	case ParserTreeSitter:
		spec, ok := lookupGrammar(language)
		if !ok {
			return nil, fmt.Errorf("no tree-sitter grammar for language '%s'", language)
		}
		return NewTreeSitterExtractor(language, spec), nil
	}
	return nil, fmt.Errorf("unknown parser '%s' for language '%s', must be one of: tree-sitter, outline, none", backend, language)
}

// SupportsCapability reports whether an extractor supplies capability
func SupportsCapability(e Extractor, capability string) bool {
	if e == nil {
		return false
	}
	for _, c := range e.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// ExtractWithTimeout bounds an extraction by timeout. A deadline hit is
// reported as a ParseTimeout error regardless of what the extractor returned.
func ExtractWithTimeout(ctx context.Context, e Extractor, path string, src []byte, timeout time.Duration) (*Node, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	node, err := e.Extract(ctx, path, src)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.NewParseTimeoutError(path, ctxErr)
	}
	if err != nil {
		if domain.IsCode(err, domain.ErrCodeParseError) || domain.IsCode(err, domain.ErrCodeParseTimeout) {
			return nil, err
		}
		return nil, domain.NewParseError(path, err)
	}
	return node, nil
}
