package service

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/testutil"
)

const branchySource = `def route(kind, items):
    if kind == "a":
        return 1
    for item in items:
        if item:
            continue
    return 0
`

func TestMetricsService_Measure(t *testing.T) {
	dir, files := sampleTree(t)
	snap := newRegistry(t).Snapshot()
	progress := &countingProgress{}

	svc := NewMetricsService(MetricsOptions{Workers: 2, Aggregate: true, Progress: progress})
	report, err := svc.Measure(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	if report.Target != dir || report.ConfigHash != snap.ConfigHash {
		t.Errorf("report header not populated: %+v", report)
	}
	if len(report.Files) != 4 {
		t.Fatalf("expected 4 files, got %d", len(report.Files))
	}
	for i := 1; i < len(report.Files); i++ {
		if report.Files[i-1].Path > report.Files[i].Path {
			t.Errorf("files not ordered by path at %d", i)
		}
	}
	if int(progress.task.count.Load()) != 4 || !progress.task.completed.Load() {
		t.Errorf("progress = %d, completed %v", progress.task.count.Load(), progress.task.completed.Load())
	}

	totals := report.Totals
	if totals == nil {
		t.Fatal("aggregate run should carry totals")
	}
	if totals.Files != 3 || totals.FilesSkipped != 1 {
		t.Errorf("file counts = %d measured, %d skipped", totals.Files, totals.FilesSkipped)
	}
	if totals.Functions != 2 || totals.MaxComplexity != 1 || totals.Lines.Code != 6 {
		t.Errorf("unexpected totals %+v", totals)
	}
	if len(report.Directories) != 1 || report.Directories[0].Path != dir {
		t.Errorf("unexpected directories %+v", report.Directories)
	}
}

func TestMetricsService_PerDirectory(t *testing.T) {
	dir := testutil.WriteTree(t, t.TempDir(), map[string]string{
		"top.py":         "def top():\n    return 1\n",
		"pkg/branchy.py": branchySource,
		"pkg/plain.c":    "int main(void) {\n    return 0;\n}\n",
	})
	files := []string{
		filepath.Join(dir, "top.py"),
		filepath.Join(dir, "pkg", "branchy.py"),
		filepath.Join(dir, "pkg", "plain.c"),
	}

	svc := NewMetricsService(MetricsOptions{Aggregate: true})
	report, err := svc.Measure(context.Background(), newRegistry(t).Snapshot(), dir, files)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(report.Directories) != 2 {
		t.Fatalf("expected 2 directories, got %+v", report.Directories)
	}
	pkg := report.Directories[1]
	if pkg.Path != filepath.Join(dir, "pkg") || pkg.Totals.Files != 2 || pkg.Totals.Functions != 2 {
		t.Errorf("unexpected pkg totals %+v", pkg)
	}
	if pkg.Totals.MaxComplexity != 4 {
		t.Errorf("route has one loop and two ifs, got max complexity %d", pkg.Totals.MaxComplexity)
	}
	if report.Totals.Functions != 3 {
		t.Errorf("expected 3 functions overall, got %d", report.Totals.Functions)
	}
}

func TestMetricsService_NoAggregate(t *testing.T) {
	dir, files := sampleTree(t)
	report, err := NewMetricsService(MetricsOptions{}).Measure(context.Background(), newRegistry(t).Snapshot(), dir, files)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if report.Totals != nil || report.Directories != nil {
		t.Errorf("per-file run should not aggregate, got %+v %+v", report.Totals, report.Directories)
	}
}

func TestMetricsService_MissingFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "gone.py")
	report, err := NewMetricsService(MetricsOptions{}).Measure(context.Background(), newRegistry(t).Snapshot(), dir, []string{missing})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(report.Files) != 1 || !report.Files[0].Skipped || !strings.Contains(report.Files[0].SkipReason, "cannot read file") {
		t.Errorf("unexpected files %+v", report.Files)
	}
}

func TestMetricsService_Cancelled(t *testing.T) {
	dir, files := sampleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMetricsService(MetricsOptions{}).Measure(ctx, newRegistry(t).Snapshot(), dir, files); err == nil {
		t.Error("expected cancellation to abort the run")
	}
}

func sampleMetricsReport() *domain.MetricsReport {
	files := []domain.FileMetrics{
		{
			Path:     "pkg/route.py",
			Language: "python",
			Lines:    domain.LineCounts{Total: 8, Code: 7, Blank: 1},
			Functions: []domain.FunctionMetrics{
				{Name: "route", Span: domain.Span{StartLine: 1}, Complexity: 4, NestingDepth: 2, Lines: 7, Risk: domain.RiskLow},
			},
		},
		{Path: "pkg/notes.txt", Skipped: true, SkipReason: "unsupported file type"},
	}
	domain.SortFileMetrics(files)
	dirs, totals := AggregateMetrics(files)
	return &domain.MetricsReport{
		Target:      "pkg",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ConfigHash:  "0123456789abcdef",
		Files:       files,
		Directories: dirs,
		Totals:      totals,
	}
}

func TestOutputFormatter_MetricsText(t *testing.T) {
	var buf bytes.Buffer
	if err := NewOutputFormatter().WriteMetrics(sampleMetricsReport(), domain.OutputFormatText, &buf); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"sentinel Metrics Report",
		"Config: 0123456789ab",
		"pkg/notes.txt: skipped (unsupported file type)",
		"pkg/route.py: 8 lines (code 7, comment 0, blank 1)",
		"1: route complexity 4 [low], nesting 2, 7 lines",
		"Files: 1 (skipped: 1)",
		"Complexity: average 4.00, max 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestOutputFormatter_MetricsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewOutputFormatter().WriteMetrics(sampleMetricsReport(), domain.OutputFormatJSON, &buf); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}
	var doc MetricsReportDoc
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.GeneratedAt != "2026-01-02T03:04:05Z" || len(doc.Files) != 2 || doc.Totals == nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Totals.ByRisk[domain.RiskLow] != 1 || len(doc.Directories) != 1 {
		t.Errorf("unexpected aggregates %+v %+v", doc.Totals, doc.Directories)
	}
}

func TestOutputFormatter_MetricsYAMLAndErrors(t *testing.T) {
	f := NewOutputFormatter()
	var buf bytes.Buffer
	if err := f.WriteMetrics(sampleMetricsReport(), domain.OutputFormatYAML, &buf); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}
	if !strings.Contains(buf.String(), "max_complexity: 4") {
		t.Errorf("unexpected YAML:\n%s", buf.String())
	}

	if err := f.WriteMetrics(sampleMetricsReport(), domain.OutputFormatHTML, &buf); !domain.IsCode(err, domain.ErrCodeUnsupportedFormat) {
		t.Errorf("expected unsupported format, got %v", err)
	}
	if err := f.WriteMetrics(nil, domain.OutputFormatText, &buf); err == nil {
		t.Error("expected an error for a nil report")
	}
}
