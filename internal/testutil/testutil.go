// Package testutil provides helper functions for testing sentinel components
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ludo-technologies/sentinel/internal/parser"
)

// CreateTestAST extracts the generic tree of source with the given backend
func CreateTestAST(t *testing.T, language, backend, source string) *parser.Node {
	t.Helper()
	ex, err := parser.NewExtractor(language, backend)
	if err != nil {
		t.Fatalf("Failed to create extractor: %v", err)
	}
	if ex == nil {
		t.Fatalf("No extractor for %s with backend %s", language, backend)
	}
	ast, err := ex.Extract(context.Background(), "test", []byte(source))
	if err != nil {
		t.Fatalf("Failed to parse test code: %v", err)
	}
	return ast
}

// WriteTree creates files under dir from a map of relative path to content
// and returns dir
func WriteTree(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	return dir
}

// FindFunctionInAST finds a function node by name in the AST
func FindFunctionInAST(ast *parser.Node, name string) *parser.Node {
	var found *parser.Node
	ast.Walk(func(n *parser.Node) bool {
		if n.IsFunction() && n.Name() == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// CountNodesOfKind counts nodes of a specific kind in an AST
func CountNodesOfKind(ast *parser.Node, kind string) int {
	count := 0
	ast.Walk(func(n *parser.Node) bool {
		if n.Kind == kind {
			count++
		}
		return true
	})
	return count
}
