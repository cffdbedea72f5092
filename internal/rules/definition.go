// Package rules turns configuration into immutable, validated check
// definitions and serves them through atomically swapped snapshots.
package rules

import (
	"regexp"
	"sort"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/parser"
)

// CheckKind selects the evaluation a check performs
type CheckKind string

const (
	KindNaming           CheckKind = "naming"
	KindTypeHints        CheckKind = "type_hints"
	KindUnsafeFunctions  CheckKind = "unsafe_functions"
	KindOwnership        CheckKind = "ownership"
	KindResourceLifetime CheckKind = "resource_lifetime"
	KindUnreachableCode  CheckKind = "unreachable_code"
	KindComplexity       CheckKind = "complexity"
	KindLineLength       CheckKind = "line_length"
	KindPattern          CheckKind = "pattern"
)

// Naming targets
const (
	TargetStruct   = "struct"
	TargetFunction = "function"
)

// Annotation match modes of the ownership check
const (
	MatchAny = "any"
	MatchAll = "all"
)

// DefaultMaxLineLength applies when a language sets none
const DefaultMaxLineLength = 100

// DefaultMaxComplexity applies when a complexity check sets no limit
const DefaultMaxComplexity = 10

// CheckDefinition is one validated, compiled check. It is never mutated
// after the snapshot holding it is published.
type CheckDefinition struct {
	ID       string
	Language string
	Kind     CheckKind
	Category domain.CheckCategory
	Severity domain.Severity
	Message  string

	// Pattern validates names (naming) or matches text (pattern)
	Pattern  *regexp.Regexp
	Patterns []*regexp.Regexp
	// Declaration captures a declared name in group 1 (regex naming)
	Declaration *regexp.Regexp
	Target      string
	Convention  string

	Functions []string
	// unsafeCall matches any deny-listed call in raw text (regex unsafe_functions)
	unsafeCall *regexp.Regexp

	RequiredAnnotations []string
	AnnotationMatch     string
	EnforceAnnotations  bool

	Resources map[string]ResourceTokens

	MaxLineLength int
	MaxComplexity int
}

// UnsafeCallPattern returns the compiled `\bname\s*\(` alternation of the
// deny-list, or nil when the list is empty
func (d *CheckDefinition) UnsafeCallPattern() *regexp.Regexp {
	return d.unsafeCall
}

// IsDenied reports whether a call name is in the deny-list
func (d *CheckDefinition) IsDenied(name string) bool {
	for _, fn := range d.Functions {
		if fn == name {
			return true
		}
	}
	return false
}

// ResourceCategories returns the tracked categories in sorted order
func (d *CheckDefinition) ResourceCategories() []string {
	out := make([]string, 0, len(d.Resources))
	for c := range d.Resources {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// RequiredCapabilities lists the extractor attributes an AST-category check
// of the given kind reads
func RequiredCapabilities(kind CheckKind) []string {
	switch kind {
	case KindNaming:
		return []string{parser.AttrName}
	case KindTypeHints:
		return []string{parser.AttrName, parser.AttrType}
	case KindUnsafeFunctions:
		return []string{parser.AttrCallee}
	case KindOwnership:
		return []string{parser.AttrName, parser.AttrAnnotations}
	case KindResourceLifetime:
		return []string{parser.CapabilityCFG, parser.AttrCallee, parser.AttrReceiver, parser.AttrArgs, parser.AttrTarget}
	case KindUnreachableCode, KindComplexity:
		return []string{parser.CapabilityCFG}
	}
	return nil
}

// allowedCategories lists the categories each kind can be evaluated in
var allowedCategories = map[CheckKind][]domain.CheckCategory{
	KindNaming:           {domain.CategoryAST, domain.CategoryRegex},
	KindTypeHints:        {domain.CategoryAST},
	KindUnsafeFunctions:  {domain.CategoryAST, domain.CategoryRegex},
	KindOwnership:        {domain.CategoryAST},
	KindResourceLifetime: {domain.CategoryAST},
	KindUnreachableCode:  {domain.CategoryAST},
	KindComplexity:       {domain.CategoryAST},
	KindLineLength:       {domain.CategoryRegex},
	KindPattern:          {domain.CategoryRegex},
}

func parseKind(s string) (CheckKind, bool) {
	k := CheckKind(s)
	_, ok := allowedCategories[k]
	return k, ok
}

func defaultCategory(kind CheckKind) domain.CheckCategory {
	return allowedCategories[kind][0]
}

func categoryAllowed(kind CheckKind, category domain.CheckCategory) bool {
	for _, c := range allowedCategories[kind] {
		if c == category {
			return true
		}
	}
	return false
}
