package service

import (
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/version"
)

// htmlFileGroup is the findings of one file in report order
type htmlFileGroup struct {
	Path     string
	Findings []domain.Finding
}

// HTMLData represents the data for the HTML template
type HTMLData struct {
	Title       string
	GeneratedAt string
	Duration    int64
	Version     string
	Session     *domain.AnalysisSession
	Summary     domain.SessionSummary
	Severities  []domain.Severity
	Checks      []string
	Files       []htmlFileGroup
	Total       int
	TimedOut    bool
	Truncated   bool
	IsQuery     bool
	Snippets    bool
}

func (f *OutputFormatterImpl) writeSessionHTML(session *domain.AnalysisSession, findings []domain.Finding, opts domain.ReportOptions, writer io.Writer) error {
	checks := make([]string, 0, len(session.Summary.ByCheck))
	for id := range session.Summary.ByCheck {
		checks = append(checks, id)
	}
	sort.Strings(checks)

	return executeHTML(writer, HTMLData{
		Title:       "sentinel Analysis Report",
		GeneratedAt: f.now().Format("2006-01-02 15:04:05"),
		Duration:    session.Duration().Milliseconds(),
		Version:     version.Version,
		Session:     session,
		Summary:     session.Summary,
		Severities:  domain.AllSeverities,
		Checks:      checks,
		Files:       groupByFile(findings),
		Total:       len(findings),
		Snippets:    opts.IncludeSnippets,
	})
}

func (f *OutputFormatterImpl) writeQueryHTML(result *domain.QueryResult, findings []domain.Finding, opts domain.ReportOptions, writer io.Writer) error {
	summary := domain.NewSessionSummary()
	for _, fd := range findings {
		summary.TotalFindings++
		summary.BySeverity[fd.Severity]++
		summary.ByCategory[fd.Category]++
		summary.ByCheck[fd.CheckID]++
	}
	return executeHTML(writer, HTMLData{
		Title:       "sentinel Query Result",
		GeneratedAt: f.now().Format("2006-01-02 15:04:05"),
		Version:     version.Version,
		Summary:     summary,
		Severities:  domain.AllSeverities,
		Files:       groupByFile(findings),
		Total:       len(findings),
		TimedOut:    result.TimedOut,
		Truncated:   result.Truncated,
		IsQuery:     true,
		Snippets:    opts.IncludeSnippets,
	})
}

func groupByFile(findings []domain.Finding) []htmlFileGroup {
	index := make(map[string]int)
	var groups []htmlFileGroup
	for _, fd := range findings {
		i, ok := index[fd.Path]
		if !ok {
			i = len(groups)
			index[fd.Path] = i
			groups = append(groups, htmlFileGroup{Path: fd.Path})
		}
		groups[i].Findings = append(groups[i].Findings, fd)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Path < groups[j].Path })
	for _, g := range groups {
		domain.SortFindings(g.Findings)
	}
	return groups
}

func executeHTML(writer io.Writer, data HTMLData) error {
	funcMap := template.FuncMap{
		"join": func(elems []string, sep string) string {
			return strings.Join(elems, sep)
		},
		"title": severityTitle,
		"short": shortHash,
		"count": func(m map[domain.Severity]int, s domain.Severity) int {
			return m[s]
		},
		"rfc3339": func(t time.Time) string {
			return t.Format(time.RFC3339)
		},
	}

	tmpl := template.Must(template.New("report").Funcs(funcMap).Parse(htmlTemplate))
	return tmpl.Execute(writer, data)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: #333;
            background: #eef1f6;
            min-height: 100vh;
        }
        .container { max-width: 1200px; margin: 0 auto; padding: 20px; }
        .panel {
            background: white;
            border-radius: 10px;
            padding: 30px;
            margin-bottom: 20px;
            box-shadow: 0 10px 30px rgba(0,0,0,0.08);
        }
        .panel h1 { color: #34495e; margin-bottom: 10px; }
        .subtitle { color: #666; font-size: 14px; }
        .notice { margin-top: 10px; color: #ff5722; font-weight: 600; }
        .metric-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
            gap: 20px;
            margin: 20px 0;
        }
        .metric-card { background: #f8f9fa; padding: 20px; border-radius: 8px; text-align: center; }
        .metric-value { font-size: 32px; font-weight: bold; color: #34495e; }
        .metric-label { color: #666; margin-top: 5px; }
        .table { width: 100%; border-collapse: collapse; margin: 12px 0 24px; }
        .table th, .table td { padding: 10px; text-align: left; border-bottom: 1px solid #ddd; vertical-align: top; }
        .table th { background: #f8f9fa; font-weight: 600; }
        .file { margin-top: 20px; font-family: monospace; font-size: 15px; }
        .severity-low { color: #2196f3; }
        .severity-medium { color: #ff9800; }
        .severity-high { color: #f44336; font-weight: 600; }
        .snippet { font-family: monospace; background: #f5f5f5; padding: 2px 6px; border-radius: 4px; }
        .suggestions { margin: 4px 0 0 18px; color: #555; font-size: 13px; }
        .clean { color: #4caf50; font-weight: bold; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="panel">
            <h1>{{.Title}}</h1>
            <p class="subtitle">Generated: {{.GeneratedAt}}{{if not .IsQuery}} | Duration: {{.Duration}}ms{{end}} | Version: {{.Version}}</p>
            {{with .Session}}
            <p class="subtitle">Session: {{.ID}} | Target: {{.Target}} | Config: {{short .ConfigHash}} | Started: {{rfc3339 .StartedAt}}</p>
            {{end}}
            {{if .Truncated}}<p class="notice">Results truncated; raise max results to see more.</p>{{end}}
            {{if .TimedOut}}<p class="notice">Query timed out; results are partial.</p>{{end}}
        </div>

        <div class="panel">
            <h2>Summary</h2>
            <div class="metric-grid">
                <div class="metric-card">
                    <div class="metric-value">{{.Total}}</div>
                    <div class="metric-label">Findings</div>
                </div>
                {{$summary := .Summary}}
                {{range .Severities}}
                <div class="metric-card">
                    <div class="metric-value severity-{{.}}">{{count $summary.BySeverity .}}</div>
                    <div class="metric-label">{{title .}}</div>
                </div>
                {{end}}
                {{if not .IsQuery}}
                <div class="metric-card">
                    <div class="metric-value">{{.Summary.FilesAnalyzed}}</div>
                    <div class="metric-label">Files Analyzed</div>
                </div>
                <div class="metric-card">
                    <div class="metric-value">{{.Summary.FilesCached}}</div>
                    <div class="metric-label">From Cache</div>
                </div>
                <div class="metric-card">
                    <div class="metric-value">{{.Summary.FilesSkipped}}</div>
                    <div class="metric-label">Skipped</div>
                </div>
                {{end}}
            </div>
            {{if .Checks}}
            <table class="table">
                <thead><tr><th>Check</th><th>Findings</th></tr></thead>
                <tbody>
                    {{range .Checks}}
                    <tr><td>{{.}}</td><td>{{index $summary.ByCheck .}}</td></tr>
                    {{end}}
                </tbody>
            </table>
            {{end}}
            {{if not .IsQuery}}{{if or .Summary.ParseErrors .Summary.ParseTimeouts .Summary.FileTimeouts}}
            <p class="subtitle">Parse errors: {{.Summary.ParseErrors}}, parse timeouts: {{.Summary.ParseTimeouts}}, file timeouts: {{.Summary.FileTimeouts}}</p>
            {{end}}{{end}}
        </div>

        <div class="panel">
            <h2>Findings</h2>
            {{if .Files}}
            {{$snippets := .Snippets}}
            {{range .Files}}
            <h3 class="file">{{.Path}}</h3>
            <table class="table">
                <thead>
                    <tr>
                        <th>Location</th>
                        <th>Severity</th>
                        <th>Check</th>
                        <th>Message</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Findings}}
                    <tr>
                        <td>{{.Span.StartLine}}:{{.Span.StartCol}}</td>
                        <td class="severity-{{.Severity}}">{{.Severity}}</td>
                        <td>{{.CheckID}}</td>
                        <td>
                            {{.Message}}
                            {{if and $snippets .Snippet}}<div><span class="snippet">{{.Snippet}}</span></div>{{end}}
                            {{if .Suggestions}}<ul class="suggestions">{{range .Suggestions}}<li>{{.}}</li>{{end}}</ul>{{end}}
                        </td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
            {{end}}
            {{else}}
            <p class="clean">✓ No findings</p>
            {{end}}
        </div>
    </div>
</body>
</html>`
