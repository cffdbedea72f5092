package service

import (
	"fmt"
	"io"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/version"
)

// MetricsReportDoc is the serialized form of a metrics report
type MetricsReportDoc struct {
	Version     string                    `json:"version" yaml:"version"`
	GeneratedAt string                    `json:"generated_at" yaml:"generated_at"`
	Target      string                    `json:"target" yaml:"target"`
	ConfigHash  string                    `json:"config_hash" yaml:"config_hash"`
	Totals      *domain.MetricsTotals     `json:"totals,omitempty" yaml:"totals,omitempty"`
	Directories []domain.DirectoryMetrics `json:"directories,omitempty" yaml:"directories,omitempty"`
	Files       []domain.FileMetrics      `json:"files" yaml:"files"`
}

// WriteMetrics renders a metrics report as text, JSON or YAML
func (f *OutputFormatterImpl) WriteMetrics(report *domain.MetricsReport, format domain.OutputFormat, writer io.Writer) error {
	if report == nil {
		return domain.NewOutputError("no metrics report to write", nil)
	}

	var err error
	switch format {
	case domain.OutputFormatText:
		err = f.writeMetricsText(report, writer)
	case domain.OutputFormatJSON, domain.OutputFormatYAML:
		doc := MetricsReportDoc{
			Version:     version.Version,
			GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
			Target:      report.Target,
			ConfigHash:  report.ConfigHash,
			Totals:      report.Totals,
			Directories: report.Directories,
			Files:       report.Files,
		}
		if doc.Files == nil {
			doc.Files = []domain.FileMetrics{}
		}
		if format == domain.OutputFormatJSON {
			err = WriteJSON(writer, doc)
		} else {
			err = WriteYAML(writer, doc)
		}
	default:
		return domain.NewUnsupportedFormatError(string(format))
	}
	if err != nil {
		return domain.NewOutputError("failed to write metrics report", err)
	}
	return nil
}

func (f *OutputFormatterImpl) writeMetricsText(report *domain.MetricsReport, writer io.Writer) error {
	fmt.Fprintf(writer, "\n=== sentinel Metrics Report ===\n")
	fmt.Fprintf(writer, "Target: %s\n", report.Target)
	fmt.Fprintf(writer, "Config: %s\n", shortHash(report.ConfigHash))
	fmt.Fprintf(writer, "Version: %s\n\n", version.Version)

	for _, file := range report.Files {
		if file.Skipped {
			fmt.Fprintf(writer, "%s: skipped (%s)\n", file.Path, file.SkipReason)
			continue
		}
		l := file.Lines
		fmt.Fprintf(writer, "%s: %d lines (code %d, comment %d, blank %d)\n", file.Path, l.Total, l.Code, l.Comment, l.Blank)
		if file.ParseFailed || file.ParseTimedOut {
			fmt.Fprintf(writer, "  no function metrics, the file could not be parsed\n")
		}
		for _, fn := range file.Functions {
			fmt.Fprintf(writer, "  %d: %s complexity %d [%s], nesting %d, %d lines\n",
				fn.Span.StartLine, fn.Name, fn.Complexity, fn.Risk, fn.NestingDepth, fn.Lines)
		}
	}

	if len(report.Directories) > 0 {
		fmt.Fprintf(writer, "\nDirectories:\n")
		for _, d := range report.Directories {
			fmt.Fprintf(writer, "  %s: %d files, %d functions, %d code lines, max complexity %d\n",
				d.Path, d.Totals.Files, d.Totals.Functions, d.Totals.Lines.Code, d.Totals.MaxComplexity)
		}
	}

	if t := report.Totals; t != nil {
		fmt.Fprintf(writer, "\nTotals:\n")
		fmt.Fprintf(writer, "  Files: %d (skipped: %d)\n", t.Files, t.FilesSkipped)
		fmt.Fprintf(writer, "  Lines: %d (code %d, comment %d, blank %d)\n", t.Lines.Total, t.Lines.Code, t.Lines.Comment, t.Lines.Blank)
		fmt.Fprintf(writer, "  Functions: %d\n", t.Functions)
		fmt.Fprintf(writer, "  Complexity: average %.2f, max %d\n", t.AverageComplexity, t.MaxComplexity)
		for _, r := range domain.AllRiskLevels {
			fmt.Fprintf(writer, "  %s risk: %d\n", r, t.ByRisk[r])
		}
	}
	return nil
}
