package service

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/version"
)

// OutputFormatterImpl implements the OutputFormatter interface
type OutputFormatterImpl struct {
	now func() time.Time
}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter() *OutputFormatterImpl {
	return &OutputFormatterImpl{now: time.Now}
}

// WriteJSON writes data as JSON to the writer
func WriteJSON(writer io.Writer, data interface{}) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// WriteYAML writes data as YAML to the writer
func WriteYAML(writer io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// SessionReport is the serialized form of a completed session
type SessionReport struct {
	Version     string                `json:"version" yaml:"version"`
	GeneratedAt string                `json:"generated_at" yaml:"generated_at"`
	SessionID   string                `json:"session_id" yaml:"session_id"`
	Target      string                `json:"target" yaml:"target"`
	ConfigHash  string                `json:"config_hash" yaml:"config_hash"`
	StartedAt   time.Time             `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time             `json:"completed_at" yaml:"completed_at"`
	DurationMs  int64                 `json:"duration_ms" yaml:"duration_ms"`
	Summary     domain.SessionSummary `json:"summary" yaml:"summary"`
	Files       []domain.FileResult   `json:"files,omitempty" yaml:"files,omitempty"`
	Findings    []domain.Finding      `json:"findings" yaml:"findings"`
}

// QueryReport is the serialized form of a query result
type QueryReport struct {
	Version     string           `json:"version" yaml:"version"`
	GeneratedAt string           `json:"generated_at" yaml:"generated_at"`
	Count       int              `json:"count" yaml:"count"`
	TimedOut    bool             `json:"timed_out" yaml:"timed_out"`
	Truncated   bool             `json:"truncated" yaml:"truncated"`
	Findings    []domain.Finding `json:"findings" yaml:"findings"`
}

// WriteSession renders a session in the specified format
func (f *OutputFormatterImpl) WriteSession(session *domain.AnalysisSession, format domain.OutputFormat, opts domain.ReportOptions, writer io.Writer) error {
	if session == nil {
		return domain.NewOutputError("no session to write", nil)
	}
	findings := projectFindings(session.Findings, opts)

	var err error
	switch format {
	case domain.OutputFormatText:
		err = f.writeSessionText(session, findings, opts, writer)
	case domain.OutputFormatHTML:
		err = f.writeSessionHTML(session, findings, opts, writer)
	case domain.OutputFormatJSON, domain.OutputFormatYAML:
		report := SessionReport{
			Version:     version.Version,
			GeneratedAt: f.now().Format(time.RFC3339),
			SessionID:   session.ID,
			Target:      session.Target,
			ConfigHash:  session.ConfigHash,
			StartedAt:   session.StartedAt,
			CompletedAt: session.CompletedAt,
			DurationMs:  session.Duration().Milliseconds(),
			Summary:     session.Summary,
			Files:       session.Files,
			Findings:    findings,
		}
		if format == domain.OutputFormatJSON {
			err = WriteJSON(writer, report)
		} else {
			err = WriteYAML(writer, report)
		}
	default:
		return domain.NewUnsupportedFormatError(string(format))
	}
	if err != nil {
		return domain.NewOutputError("failed to write report", err)
	}
	return nil
}

// WriteQueryResult renders a query result in the specified format
func (f *OutputFormatterImpl) WriteQueryResult(result *domain.QueryResult, format domain.OutputFormat, opts domain.ReportOptions, writer io.Writer) error {
	if result == nil {
		return domain.NewOutputError("no query result to write", nil)
	}
	findings := projectFindings(result.Findings, opts)

	var err error
	switch format {
	case domain.OutputFormatText:
		err = f.writeQueryText(result, findings, opts, writer)
	case domain.OutputFormatHTML:
		err = f.writeQueryHTML(result, findings, opts, writer)
	case domain.OutputFormatJSON, domain.OutputFormatYAML:
		report := QueryReport{
			Version:     version.Version,
			GeneratedAt: f.now().Format(time.RFC3339),
			Count:       len(findings),
			TimedOut:    result.TimedOut,
			Truncated:   result.Truncated,
			Findings:    findings,
		}
		if format == domain.OutputFormatJSON {
			err = WriteJSON(writer, report)
		} else {
			err = WriteYAML(writer, report)
		}
	default:
		return domain.NewUnsupportedFormatError(string(format))
	}
	if err != nil {
		return domain.NewOutputError("failed to write query result", err)
	}
	return nil
}

// projectFindings applies report options without touching the session
func projectFindings(findings []domain.Finding, opts domain.ReportOptions) []domain.Finding {
	out := make([]domain.Finding, len(findings))
	for i, f := range findings {
		if !opts.IncludeSnippets {
			f.Snippet = ""
		}
		if opts.MaxSuggestions > 0 && len(f.Suggestions) > opts.MaxSuggestions {
			f.Suggestions = f.Suggestions[:opts.MaxSuggestions]
		}
		out[i] = f
	}
	return out
}

// writeSessionText writes the summary grouped by severity, then findings grouped by file
func (f *OutputFormatterImpl) writeSessionText(session *domain.AnalysisSession, findings []domain.Finding, opts domain.ReportOptions, writer io.Writer) error {
	s := session.Summary
	fmt.Fprintf(writer, "\n=== sentinel Analysis Report ===\n")
	fmt.Fprintf(writer, "Session: %s\n", session.ID)
	fmt.Fprintf(writer, "Target: %s\n", session.Target)
	fmt.Fprintf(writer, "Config: %s\n", shortHash(session.ConfigHash))
	fmt.Fprintf(writer, "Duration: %dms\n", session.Duration().Milliseconds())
	fmt.Fprintf(writer, "Version: %s\n\n", version.Version)

	fmt.Fprintf(writer, "Summary:\n")
	fmt.Fprintf(writer, "  Files analyzed: %d (cached: %d, skipped: %d)\n", s.FilesAnalyzed, s.FilesCached, s.FilesSkipped)
	fmt.Fprintf(writer, "  Total findings: %d\n", s.TotalFindings)
	for _, sev := range domain.AllSeverities {
		fmt.Fprintf(writer, "  %s: %d\n", severityTitle(sev), s.BySeverity[sev])
	}
	if len(s.ByCategory) > 0 {
		fmt.Fprintf(writer, "  By category: ast %d, regex %d\n", s.ByCategory[domain.CategoryAST], s.ByCategory[domain.CategoryRegex])
	}
	if s.ParseErrors > 0 || s.ParseTimeouts > 0 || s.FileTimeouts > 0 {
		fmt.Fprintf(writer, "  Parse errors: %d, parse timeouts: %d, file timeouts: %d\n", s.ParseErrors, s.ParseTimeouts, s.FileTimeouts)
	}
	fmt.Fprintf(writer, "\n")

	if len(findings) == 0 {
		fmt.Fprintf(writer, "No findings.\n")
		return nil
	}
	fmt.Fprintf(writer, "Findings:\n")
	writeFindingsByFile(writer, findings, opts)
	return nil
}

func (f *OutputFormatterImpl) writeQueryText(result *domain.QueryResult, findings []domain.Finding, opts domain.ReportOptions, writer io.Writer) error {
	fmt.Fprintf(writer, "\n=== sentinel Query Result ===\n")
	fmt.Fprintf(writer, "Matches: %d\n", len(findings))
	if result.Truncated {
		fmt.Fprintf(writer, "Results truncated; raise --max-results to see more.\n")
	}
	if result.TimedOut {
		fmt.Fprintf(writer, "Query timed out; results are partial.\n")
	}
	fmt.Fprintf(writer, "\n")
	if len(findings) == 0 {
		fmt.Fprintf(writer, "No findings.\n")
		return nil
	}
	writeFindingsByFile(writer, findings, opts)
	return nil
}

func writeFindingsByFile(writer io.Writer, findings []domain.Finding, opts domain.ReportOptions) {
	byFile := make(map[string][]domain.Finding)
	var paths []string
	for _, fd := range findings {
		if _, ok := byFile[fd.Path]; !ok {
			paths = append(paths, fd.Path)
		}
		byFile[fd.Path] = append(byFile[fd.Path], fd)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fileFindings := byFile[path]
		domain.SortFindings(fileFindings)
		fmt.Fprintf(writer, "%s:\n", path)
		for _, fd := range fileFindings {
			fmt.Fprintf(writer, "  %d:%d [%s] %s: %s\n",
				fd.Span.StartLine, fd.Span.StartCol, strings.ToUpper(string(fd.Severity)), fd.CheckID, fd.Message)
			if opts.IncludeSnippets && fd.Snippet != "" {
				fmt.Fprintf(writer, "      | %s\n", fd.Snippet)
			}
			for _, sg := range fd.Suggestions {
				fmt.Fprintf(writer, "      - %s\n", sg)
			}
		}
	}
}

func severityTitle(s domain.Severity) string {
	str := string(s)
	if str == "" {
		return str
	}
	return strings.ToUpper(str[:1]) + str[1:]
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
