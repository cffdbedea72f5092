package domain

import (
	"context"
	"io"
)

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatHTML OutputFormat = "html"
)

// ParseOutputFormat validates a format name
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML, OutputFormatHTML:
		return OutputFormat(s), nil
	}
	return "", NewUnsupportedFormatError(s)
}

// ReportOptions control how a session is projected into a report
type ReportOptions struct {
	IncludeSnippets bool
	MaxSuggestions  int
}

// OutputFormatter renders sessions and query results
type OutputFormatter interface {
	WriteSession(session *AnalysisSession, format OutputFormat, opts ReportOptions, writer io.Writer) error
	WriteQueryResult(result *QueryResult, format OutputFormat, opts ReportOptions, writer io.Writer) error
}

// FindingStore persists sessions and serves bounded queries over their findings
type FindingStore interface {
	SaveSession(ctx context.Context, session *AnalysisSession) error
	GetSession(ctx context.Context, id string) (*AnalysisSession, error)
	ListSessions(ctx context.Context, limit int) ([]SessionInfo, error)
	DeleteSession(ctx context.Context, id string) error
	Query(ctx context.Context, pred QueryPredicate, limits QueryLimits) (*QueryResult, error)
	Close() error
}

// ProgressManager creates progress tasks
type ProgressManager interface {
	StartTask(description string, total int) TaskProgress
	IsInteractive() bool
	Close()
}

// TaskProgress reports progress of a single task
type TaskProgress interface {
	Increment(n int)
	Describe(description string)
	Complete()
}
