package service

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
)

func testFinding(path string, line int, checkID string, cat domain.CheckCategory, sev domain.Severity) domain.Finding {
	f := domain.Finding{
		Path:     path,
		Span:     domain.Span{File: path, StartLine: line, StartCol: 1, EndLine: line, EndCol: 2},
		CheckID:  checkID,
		Category: cat,
		Severity: sev,
		Message:  checkID + " message",
	}
	f.AssignID()
	return f
}

func TestAggregator_ConcurrentAddAndFinish(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	session := &domain.AnalysisSession{ID: "s", StartedAt: start}
	agg := NewAggregator(session, 2)

	results := []domain.FileResult{
		{Path: "b.py", Findings: []domain.Finding{
			testFinding("b.py", 5, "type_hints", domain.CategoryAST, domain.SeverityLow),
			testFinding("b.py", 1, "unsafe_functions", domain.CategoryAST, domain.SeverityHigh),
		}},
		{Path: "a.py", FromCache: true, Findings: []domain.Finding{
			testFinding("a.py", 3, "line_length", domain.CategoryRegex, domain.SeverityLow),
		}},
		{Path: "c.py", ParseFailed: true, Findings: []domain.Finding{
			testFinding("c.py", 1, domain.CheckIDParseError, domain.CategoryAST, domain.SeverityHigh),
		}},
		{Path: "d.txt", Skipped: true, SkipReason: "unsupported file type"},
		{Path: "e.py", TimedOut: true},
	}

	var wg sync.WaitGroup
	for _, r := range results {
		wg.Add(1)
		go func(r domain.FileResult) {
			defer wg.Done()
			agg.Add(r)
		}(r)
	}
	wg.Wait()
	got := agg.Finish(start.Add(2 * time.Second))

	if got.Duration() != 2*time.Second {
		t.Errorf("Duration = %v", got.Duration())
	}
	wantOrder := []string{"a.py:3", "b.py:1", "b.py:5", "c.py:1"}
	if len(got.Findings) != len(wantOrder) {
		t.Fatalf("expected %d findings, got %d", len(wantOrder), len(got.Findings))
	}
	for i, f := range got.Findings {
		if key := f.Path + ":" + strconv.Itoa(f.Span.StartLine); key != wantOrder[i] {
			t.Errorf("finding %d = %s, want %s", i, key, wantOrder[i])
		}
	}
	for i := 1; i < len(got.Files); i++ {
		if got.Files[i-1].Path > got.Files[i].Path {
			t.Errorf("files not sorted: %s before %s", got.Files[i-1].Path, got.Files[i].Path)
		}
	}

	s := got.Summary
	if s.TotalFindings != 4 {
		t.Errorf("TotalFindings = %d", s.TotalFindings)
	}
	if s.BySeverity[domain.SeverityHigh] != 2 || s.BySeverity[domain.SeverityLow] != 2 {
		t.Errorf("BySeverity = %v", s.BySeverity)
	}
	if s.ByCategory[domain.CategoryRegex] != 1 || s.ByCategory[domain.CategoryAST] != 3 {
		t.Errorf("ByCategory = %v", s.ByCategory)
	}
	if s.FilesAnalyzed != 4 || s.FilesSkipped != 1 || s.FilesCached != 1 || s.ParseErrors != 1 || s.FileTimeouts != 1 {
		t.Errorf("file counts = %+v", s)
	}
}

func TestAggregator_TruncatesSuggestions(t *testing.T) {
	f := testFinding("a.py", 1, "struct_naming", domain.CategoryAST, domain.SeverityMedium)
	f.Suggestions = []string{"one", "two", "three"}
	original := f.Suggestions

	session := &domain.AnalysisSession{}
	agg := NewAggregator(session, 2)
	agg.Add(domain.FileResult{Path: "a.py", Findings: []domain.Finding{f}})
	agg.Finish(time.Now())

	if len(session.Findings[0].Suggestions) != 2 {
		t.Errorf("expected 2 suggestions, got %v", session.Findings[0].Suggestions)
	}
	if len(original) != 3 {
		t.Error("truncation must not modify the caller's slice")
	}

	none := &domain.AnalysisSession{}
	agg = NewAggregator(none, 0)
	agg.Add(domain.FileResult{Path: "a.py", Findings: []domain.Finding{f}})
	agg.Finish(time.Now())
	if none.Findings[0].Suggestions != nil {
		t.Errorf("max_suggestions 0 drops suggestions, got %v", none.Findings[0].Suggestions)
	}
}

func TestAggregator_EmptySessionHasNonNilFindings(t *testing.T) {
	session := NewAggregator(&domain.AnalysisSession{}, 3).Finish(time.Now())
	if session.Findings == nil {
		t.Error("an empty session should render findings as [] rather than null")
	}
	if session.Summary.BySeverity == nil {
		t.Error("summary maps should be initialized")
	}
}
