package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Severity is the ordered classification attached to a check and copied into its findings
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AllSeverities lists severities from highest to lowest
var AllSeverities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity converts a configuration string into a Severity
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("invalid severity '%s', must be one of: low, medium, high", s)
}

// Rank returns the position of the severity in the total order (low=1 .. high=3).
// Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether s is ordered at or above min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// IsValid returns true for the three recognized levels
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// CheckCategory tags how a check consumes a file
type CheckCategory string

const (
	CategoryAST   CheckCategory = "ast"
	CategoryRegex CheckCategory = "regex"
)

// ParseCheckCategory converts a configuration string into a CheckCategory
func ParseCheckCategory(s string) (CheckCategory, error) {
	switch CheckCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryAST:
		return CategoryAST, nil
	case CategoryRegex:
		return CategoryRegex, nil
	}
	return "", fmt.Errorf("invalid category '%s', must be one of: ast, regex", s)
}

// Check ids produced by the engine itself rather than a configured check
const (
	CheckIDParseError          = "parse_error"
	CheckIDCheckExecutionError = "check_execution_error"
)

// Span locates a finding or AST node in a source file. Lines are 1-based,
// columns are 1-based, offsets are byte offsets.
type Span struct {
	File        string `json:"file,omitempty" yaml:"file,omitempty"`
	StartLine   int    `json:"start_line" yaml:"start_line"`
	StartCol    int    `json:"start_col" yaml:"start_col"`
	EndLine     int    `json:"end_line" yaml:"end_line"`
	EndCol      int    `json:"end_col" yaml:"end_col"`
	StartOffset int    `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`
	EndOffset   int    `json:"end_offset,omitempty" yaml:"end_offset,omitempty"`
}

// String returns file:line:col
func (s Span) String() string {
	return fmt.Sprintf("%s:%d:%d", s.File, s.StartLine, s.StartCol)
}

// Finding is one reported issue tied to exactly one check and one location
type Finding struct {
	ID          string        `json:"id" yaml:"id"`
	Path        string        `json:"path" yaml:"path"`
	Span        Span          `json:"span" yaml:"span"`
	CheckID     string        `json:"check_id" yaml:"check_id"`
	Category    CheckCategory `json:"category" yaml:"category"`
	Severity    Severity      `json:"severity" yaml:"severity"`
	Message     string        `json:"message" yaml:"message"`
	Snippet     string        `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
	Related     []Span        `json:"related,omitempty" yaml:"related,omitempty"`
}

// Line returns the 1-based start line
func (f *Finding) Line() int {
	return f.Span.StartLine
}

// AssignID sets a deterministic id derived from location, check and message,
// so re-analysis of unchanged input yields identical findings.
func (f *Finding) AssignID() {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d:%d:%d:%d\x00%s\x00%s",
		f.Path, f.Span.StartLine, f.Span.StartCol, f.Span.EndLine, f.Span.EndCol, f.CheckID, f.Message)
	f.ID = hex.EncodeToString(h.Sum(nil))[:16]
}

// SortFindings orders findings of one file by (line, column, check id)
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i].Span, findings[j].Span
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.StartCol != b.StartCol {
			return a.StartCol < b.StartCol
		}
		return findings[i].CheckID < findings[j].CheckID
	})
}

// SortFindingsByPath orders findings by (path, line, column, check id)
func SortFindingsByPath(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		a, b := findings[i].Span, findings[j].Span
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.StartCol != b.StartCol {
			return a.StartCol < b.StartCol
		}
		return findings[i].CheckID < findings[j].CheckID
	})
}
