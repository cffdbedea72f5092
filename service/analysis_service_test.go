package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/cache"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
	"github.com/ludo-technologies/sentinel/internal/testutil"
)

// blockingExtractor never finishes before its context does
type blockingExtractor struct{ parser.Extractor }

func (b blockingExtractor) Extract(ctx context.Context, path string, src []byte) (*parser.Node, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newRegistry(t *testing.T, opts ...rules.Option) *rules.Registry {
	t.Helper()
	r, err := rules.NewRegistry(config.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func sampleTree(t *testing.T) (string, []string) {
	t.Helper()
	dir := testutil.WriteTree(t, t.TempDir(), map[string]string{
		"shapes.py": "class myStruct:\n    pass\n",
		"run.py":    "def run(cmd: str):\n    system(cmd)\n",
		"clean.py":  "def add(a: int, b: int) -> int:\n    return a + b\n",
		"notes.txt": "not source\n",
	})
	files := []string{
		filepath.Join(dir, "shapes.py"),
		filepath.Join(dir, "run.py"),
		filepath.Join(dir, "clean.py"),
		filepath.Join(dir, "notes.txt"),
	}
	return dir, files
}

func TestAnalysisService_Analyze(t *testing.T) {
	dir, files := sampleTree(t)
	snap := newRegistry(t).Snapshot()

	svc := NewAnalysisService(AnalysisOptions{Workers: 2, GenerateFixes: true, MaxSuggestions: 1})
	session, err := svc.Analyze(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if session.ID == "" || session.ConfigHash != snap.ConfigHash || len(session.Config) == 0 {
		t.Errorf("session header not populated: id=%q hash=%q", session.ID, session.ConfigHash)
	}
	if session.CompletedAt.Before(session.StartedAt) {
		t.Error("completion must not precede start")
	}
	if len(session.Files) != 4 {
		t.Fatalf("expected 4 file results, got %d", len(session.Files))
	}
	if session.Summary.FilesSkipped != 1 || session.Summary.FilesAnalyzed != 3 {
		t.Errorf("file counts = %+v", session.Summary)
	}

	var naming, unsafe int
	for i, f := range session.Findings {
		if i > 0 && session.Findings[i-1].Path > f.Path {
			t.Errorf("findings not ordered by path at %d", i)
		}
		if len(f.Suggestions) > 1 {
			t.Errorf("suggestions should be truncated to 1, got %v", f.Suggestions)
		}
		switch f.CheckID {
		case "struct_naming":
			naming++
		case "unsafe_functions":
			unsafe++
			if f.Severity != domain.SeverityHigh {
				t.Errorf("unsafe_functions severity = %s", f.Severity)
			}
		}
	}
	if naming != 1 || unsafe != 1 {
		t.Errorf("expected one naming and one unsafe finding, got %d and %d", naming, unsafe)
	}
}

func TestAnalysisService_SecondRunUsesResultCache(t *testing.T) {
	dir, files := sampleTree(t)
	snap := newRegistry(t).Snapshot()
	results, err := cache.New(cache.Options{Dir: filepath.Join(t.TempDir(), "results"), MaxBytes: 1 << 20, TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer results.Close()

	svc := NewAnalysisService(AnalysisOptions{Results: results, GenerateFixes: true, MaxSuggestions: 3})
	first, err := svc.Analyze(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Analyze(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatal(err)
	}

	if first.Summary.FilesCached != 0 {
		t.Errorf("first run should not hit the cache, got %d", first.Summary.FilesCached)
	}
	if second.Summary.FilesCached != 3 {
		t.Errorf("second run should serve the 3 source files from cache, got %d", second.Summary.FilesCached)
	}
	if len(first.Findings) != len(second.Findings) {
		t.Fatalf("cached run changed the findings: %d vs %d", len(first.Findings), len(second.Findings))
	}
	for i := range first.Findings {
		if first.Findings[i].ID != second.Findings[i].ID {
			t.Errorf("finding %d differs between runs", i)
		}
	}
	if first.ID == second.ID {
		t.Error("every run is a new session")
	}
}

func TestAnalysisService_FileTimeoutIsIsolated(t *testing.T) {
	dir, files := sampleTree(t)
	snap := newRegistry(t).Snapshot()
	ls, _ := snap.Language("python")

	svc := NewAnalysisService(AnalysisOptions{
		FileTimeout: 50 * time.Millisecond,
		Extractors:  map[string]parser.Extractor{"python": blockingExtractor{ls.Extractor}},
	})
	session, err := svc.Analyze(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatalf("a file timeout must not fail the session: %v", err)
	}
	if session.Summary.FileTimeouts != 3 {
		t.Errorf("expected every python file to time out, got %+v", session.Summary)
	}
	if len(session.Findings) != 0 {
		t.Errorf("timed-out files report no findings, got %d", len(session.Findings))
	}
}

func TestAnalysisService_CanceledContext(t *testing.T) {
	dir, files := sampleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalysisService(AnalysisOptions{}).Analyze(ctx, newRegistry(t).Snapshot(), dir, files)
	if err == nil {
		t.Fatal("a canceled session should return an error")
	}
}

func TestAnalysisService_PolicySkipsFiles(t *testing.T) {
	dir, files := sampleTree(t)
	policy := rules.SecurityPolicy{AllowedPaths: []string{filepath.Join(dir, "elsewhere")}}
	snap := newRegistry(t, rules.WithSecurityPolicy(policy)).Snapshot()

	session, err := NewAnalysisService(AnalysisOptions{}).Analyze(context.Background(), snap, dir, files)
	if err != nil {
		t.Fatal(err)
	}
	if session.Summary.FilesSkipped != 4 || len(session.Findings) != 0 {
		t.Errorf("files outside the allowed paths should be skipped: %+v", session.Summary)
	}
}

func TestAnalysisService_ProgressReported(t *testing.T) {
	dir, files := sampleTree(t)
	progress := &countingProgress{}

	_, err := NewAnalysisService(AnalysisOptions{Progress: progress}).Analyze(context.Background(), newRegistry(t).Snapshot(), dir, files)
	if err != nil {
		t.Fatal(err)
	}
	if progress.task.total != 4 || progress.task.count.Load() != 4 || !progress.task.completed.Load() {
		t.Errorf("progress: total=%d count=%d completed=%v", progress.task.total, progress.task.count.Load(), progress.task.completed.Load())
	}
}
