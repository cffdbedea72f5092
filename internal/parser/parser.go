package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// TreeSitterExtractor wraps a tree-sitter grammar behind the Extractor interface
type TreeSitterExtractor struct {
	language string
	spec     *grammarSpec
}

// NewTreeSitterExtractor creates an extractor for one grammar
func NewTreeSitterExtractor(language string, spec *grammarSpec) *TreeSitterExtractor {
	return &TreeSitterExtractor{
		language: language,
		spec:     spec,
	}
}

// Language returns the configured language name
func (e *TreeSitterExtractor) Language() string {
	return e.language
}

// Capabilities returns the attributes this grammar's table supplies
func (e *TreeSitterExtractor) Capabilities() []string {
	return append([]string(nil), e.spec.capabilities...)
}

// Extract parses a source file. A parser is created per call because
// tree-sitter parsers are not safe for concurrent use.
func (e *TreeSitterExtractor) Extract(ctx context.Context, path string, src []byte) (*Node, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(e.spec.language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if tree == nil {
		if err == nil {
			err = fmt.Errorf("no parse tree produced")
		}
		return nil, fmt.Errorf("failed to parse file %s: %w", path, err)
	}
	defer tree.Close()

	rootNode := tree.RootNode()
	if rootNode == nil {
		return nil, fmt.Errorf("no root node in parse tree for %s", path)
	}
	if rootNode.HasError() {
		return nil, firstSyntaxError(rootNode)
	}

	builder := NewASTBuilder(ctx, path, src, e.spec)
	ast, err := builder.Build(rootNode)
	if err != nil {
		return nil, err
	}
	return ast, nil
}

// firstSyntaxError locates the first ERROR or MISSING node in document order
func firstSyntaxError(root *sitter.Node) *SyntaxError {
	var found *sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil || found != nil {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)

	if found == nil {
		return &SyntaxError{Line: 1, Col: 1, Message: "syntax error"}
	}
	point := found.StartPoint()
	msg := "unexpected syntax"
	if found.IsMissing() {
		msg = fmt.Sprintf("missing %s", found.Type())
	}
	return &SyntaxError{
		Line:    int(point.Row) + 1,
		Col:     int(point.Column) + 1,
		Message: msg,
	}
}
