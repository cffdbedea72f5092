package domain

import (
	"encoding/json"
	"time"
)

// FileResult holds the outcome of analyzing one file
type FileResult struct {
	Path          string    `json:"path" yaml:"path"`
	Language      string    `json:"language,omitempty" yaml:"language,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Findings      []Finding `json:"-" yaml:"-"`
	FromCache     bool      `json:"from_cache,omitempty" yaml:"from_cache,omitempty"`
	ParseFailed   bool      `json:"parse_failed,omitempty" yaml:"parse_failed,omitempty"`
	ParseTimedOut bool      `json:"parse_timeout,omitempty" yaml:"parse_timeout,omitempty"`
	TimedOut      bool      `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Skipped       bool      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SkipReason    string    `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
}

// SessionSummary aggregates counts over a session
type SessionSummary struct {
	TotalFindings int                   `json:"total_findings" yaml:"total_findings"`
	ByCategory    map[CheckCategory]int `json:"by_category" yaml:"by_category"`
	BySeverity    map[Severity]int      `json:"by_severity" yaml:"by_severity"`
	ByCheck       map[string]int        `json:"by_check" yaml:"by_check"`
	FilesAnalyzed int                   `json:"files_analyzed" yaml:"files_analyzed"`
	FilesCached   int                   `json:"files_cached" yaml:"files_cached"`
	FilesSkipped  int                   `json:"files_skipped" yaml:"files_skipped"`
	ParseErrors   int                   `json:"parse_errors" yaml:"parse_errors"`
	ParseTimeouts int                   `json:"parse_timeouts" yaml:"parse_timeouts"`
	FileTimeouts  int                   `json:"file_timeouts" yaml:"file_timeouts"`
}

// NewSessionSummary returns a summary with initialized maps
func NewSessionSummary() SessionSummary {
	return SessionSummary{
		ByCategory: make(map[CheckCategory]int),
		BySeverity: make(map[Severity]int),
		ByCheck:    make(map[string]int),
	}
}

// AnalysisSession is created per analyze invocation and is immutable once completed
type AnalysisSession struct {
	ID          string          `json:"session_id" yaml:"session_id"`
	Target      string          `json:"target" yaml:"target"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time       `json:"completed_at" yaml:"completed_at"`
	ConfigHash  string          `json:"config_hash" yaml:"config_hash"`
	Config      json.RawMessage `json:"-" yaml:"-"`
	Files       []FileResult    `json:"files,omitempty" yaml:"files,omitempty"`
	Findings    []Finding       `json:"findings" yaml:"findings"`
	Summary     SessionSummary  `json:"summary" yaml:"summary"`
}

// Duration returns the wall-clock time the session took
func (s *AnalysisSession) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// SessionInfo is the lightweight listing form of a persisted session
type SessionInfo struct {
	ID           string    `json:"session_id" yaml:"session_id"`
	Target       string    `json:"target" yaml:"target"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt  time.Time `json:"completed_at" yaml:"completed_at"`
	ConfigHash   string    `json:"config_hash" yaml:"config_hash"`
	FindingCount int       `json:"finding_count" yaml:"finding_count"`
}
