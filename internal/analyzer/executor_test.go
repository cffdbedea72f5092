package analyzer

import (
	"context"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/cache"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// countingExtractor counts calls reaching the wrapped extractor
type countingExtractor struct {
	inner parser.Extractor
	calls atomic.Int32
}

func (c *countingExtractor) Language() string       { return c.inner.Language() }
func (c *countingExtractor) Capabilities() []string { return c.inner.Capabilities() }
func (c *countingExtractor) Extract(ctx context.Context, path string, src []byte) (*parser.Node, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, path, src)
}

// slowExtractor blocks until its context is done
type slowExtractor struct{ parser.Extractor }

func (s slowExtractor) Extract(ctx context.Context, path string, src []byte) (*parser.Node, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func defaultSnapshot(t *testing.T) *rules.Snapshot {
	t.Helper()
	r, err := rules.NewRegistry(config.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r.Snapshot()
}

func newMemoryCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{MaxBytes: 1 << 20, TTL: time.Hour})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func findingsFor(findings []domain.Finding, checkID string) []domain.Finding {
	var out []domain.Finding
	for _, f := range findings {
		if f.CheckID == checkID {
			out = append(out, f)
		}
	}
	return out
}

func TestExecutor_StructNaming(t *testing.T) {
	e := NewExecutor(defaultSnapshot(t), ExecutorOptions{})
	res, err := e.AnalyzeFile(context.Background(), "shapes.py", []byte("class myStruct:\n    pass\n"))
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	got := findingsFor(res.Findings, "struct_naming")
	if len(got) != 1 {
		t.Fatalf("expected 1 struct_naming finding, got %+v", res.Findings)
	}
	f := got[0]
	if f.Severity != domain.SeverityMedium || f.Span.StartLine != 1 || f.Category != domain.CategoryAST {
		t.Errorf("unexpected finding %+v", f)
	}
	if f.Path != "shapes.py" || f.Span.File != "shapes.py" || f.ID == "" {
		t.Errorf("finding should carry path and id: %+v", f)
	}
	if f.Snippet != "class myStruct:" {
		t.Errorf("snippet = %q", f.Snippet)
	}
	if len(f.Suggestions) != 0 {
		t.Error("suggestions are only generated when fixes are enabled")
	}
}

func TestExecutor_UnsafeCall(t *testing.T) {
	e := NewExecutor(defaultSnapshot(t), ExecutorOptions{GenerateFixes: true})
	res, err := e.AnalyzeFile(context.Background(), "run.py", []byte("def run(cmd: str):\n    system(cmd)\n"))
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	got := findingsFor(res.Findings, "unsafe_functions")
	if len(got) != 1 {
		t.Fatalf("expected 1 unsafe_functions finding, got %+v", res.Findings)
	}
	if got[0].Severity != domain.SeverityHigh || got[0].Span.StartLine != 2 {
		t.Errorf("unexpected finding %+v", got[0])
	}
	if len(got[0].Suggestions) == 0 || !strings.Contains(got[0].Suggestions[0], "system") {
		t.Errorf("expected a replacement suggestion, got %v", got[0].Suggestions)
	}
}

func TestExecutor_SeverityMatchesDefinition(t *testing.T) {
	src := `class badName:
    def Run(self, cmd, n):
        f = open(cmd)
        if n:
            return eval(cmd)
        f.close()
        password = "hunter2"
` + "# " + strings.Repeat("x", 120) + "\n"

	snap := defaultSnapshot(t)
	e := NewExecutor(snap, ExecutorOptions{})
	res, err := e.AnalyzeFile(context.Background(), "mixed.py", []byte(src))
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	seen := make(map[string]bool)
	for _, f := range res.Findings {
		def, ok := snap.Check("python", f.CheckID)
		if !ok {
			t.Errorf("finding from unknown check %s", f.CheckID)
			continue
		}
		seen[f.CheckID] = true
		if f.Severity != def.Severity {
			t.Errorf("%s: finding severity %s != check severity %s", f.CheckID, f.Severity, def.Severity)
		}
		if f.Category != def.Category {
			t.Errorf("%s: finding category %s != check category %s", f.CheckID, f.Category, def.Category)
		}
	}
	for _, id := range []string{"struct_naming", "fn_naming", "type_hints", "unsafe_functions", "resource_lifetime", "hardcoded_secret", "line_length"} {
		if !seen[id] {
			t.Errorf("expected a finding from %s", id)
		}
	}

	// sorted by line, column, check id
	for i := 1; i < len(res.Findings); i++ {
		a, b := res.Findings[i-1], res.Findings[i]
		if a.Span.StartLine > b.Span.StartLine ||
			(a.Span.StartLine == b.Span.StartLine && a.Span.StartCol > b.Span.StartCol) {
			t.Errorf("findings out of order at %d: %v then %v", i, a.Span, b.Span)
		}
	}
}

func TestExecutor_IdempotentWithCache(t *testing.T) {
	snap := defaultSnapshot(t)
	ls, _ := snap.Language("python")
	counter := &countingExtractor{inner: ls.Extractor}

	results := newMemoryCache(t)
	trees := newMemoryCache(t)
	e := NewExecutor(snap, ExecutorOptions{
		Results:       results,
		Trees:         trees,
		GenerateFixes: true,
		Extractors:    map[string]parser.Extractor{"python": counter},
	})

	src := []byte("class myStruct:\n    def Go(self, x):\n        system(x)\n")
	first, err := e.AnalyzeFile(context.Background(), "a.py", src)
	if err != nil {
		t.Fatalf("first AnalyzeFile: %v", err)
	}
	second, err := e.AnalyzeFile(context.Background(), "a.py", src)
	if err != nil {
		t.Fatalf("second AnalyzeFile: %v", err)
	}

	if n := counter.calls.Load(); n != 1 {
		t.Errorf("extractor invoked %d times, want 1", n)
	}
	if first.FromCache || !second.FromCache {
		t.Errorf("FromCache = %v, %v; want false, true", first.FromCache, second.FromCache)
	}
	if !reflect.DeepEqual(first.Findings, second.Findings) {
		t.Errorf("cached findings differ:\n%+v\n%+v", first.Findings, second.Findings)
	}

	// changed content misses the result cache and is parsed again
	if _, err := e.AnalyzeFile(context.Background(), "a.py", append(src, '\n')); err != nil {
		t.Fatal(err)
	}
	if n := counter.calls.Load(); n != 2 {
		t.Errorf("changed content should be parsed again, calls = %d", n)
	}
}

func TestExecutor_CorruptResultIsRecomputed(t *testing.T) {
	snap := defaultSnapshot(t)
	results := newMemoryCache(t)
	e := NewExecutor(snap, ExecutorOptions{Results: results})

	src := []byte("class myStruct:\n    pass\n")
	key := ResultCacheKey(snap.ConfigHash, "a.py", false)
	if err := results.Put(context.Background(), key, cache.HashContent(src), []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	res, err := e.AnalyzeFile(context.Background(), "a.py", src)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if res.FromCache {
		t.Error("an undecodable payload must not be served")
	}
	if len(findingsFor(res.Findings, "struct_naming")) != 1 {
		t.Errorf("expected recomputed findings, got %+v", res.Findings)
	}
}

func TestExecutor_ParseErrorStillRunsRegexChecks(t *testing.T) {
	src := "def broken(:\n    pass\n# " + strings.Repeat("y", 150) + "\n"
	e := NewExecutor(defaultSnapshot(t), ExecutorOptions{})
	res, err := e.AnalyzeFile(context.Background(), "broken.py", []byte(src))
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if !res.ParseFailed {
		t.Error("ParseFailed should be set")
	}
	parseErrs := findingsFor(res.Findings, domain.CheckIDParseError)
	if len(parseErrs) != 1 || parseErrs[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected one high parse_error finding, got %+v", res.Findings)
	}
	if len(findingsFor(res.Findings, "line_length")) != 1 {
		t.Error("regex checks should still run after a parse error")
	}
	if len(findingsFor(res.Findings, "fn_naming")) != 0 {
		t.Error("AST checks cannot run without a tree")
	}
}

func TestExecutor_ParseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	lang := cfg.Languages["python"]
	lang.ASTAnalysis.AnalysisTimeoutMs = 20
	cfg.Languages["python"] = lang
	r, err := rules.NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	ls, _ := snap.Language("python")

	e := NewExecutor(snap, ExecutorOptions{Extractors: map[string]parser.Extractor{"python": slowExtractor{ls.Extractor}}})
	src := "class myStruct:\n    pass\n# " + strings.Repeat("z", 150) + "\n"
	res, err := e.AnalyzeFile(context.Background(), "slow.py", []byte(src))
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if !res.ParseTimedOut || res.ParseFailed || res.TimedOut {
		t.Errorf("flags = timeout %v, failed %v, file timeout %v", res.ParseTimedOut, res.ParseFailed, res.TimedOut)
	}
	if len(findingsFor(res.Findings, "line_length")) != 1 {
		t.Error("regex checks should run when parsing times out")
	}
	if len(findingsFor(res.Findings, "struct_naming")) != 0 {
		t.Error("AST checks should be skipped when parsing times out")
	}
}

func TestExecutor_FileTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	results := newMemoryCache(t)
	e := NewExecutor(defaultSnapshot(t), ExecutorOptions{Results: results})
	res, err := e.AnalyzeFile(ctx, "late.py", []byte("class myStruct:\n    pass\n"))
	if err != nil {
		t.Fatalf("a deadline is not an error: %v", err)
	}
	if !res.TimedOut || len(res.Findings) != 0 {
		t.Errorf("expected a timed out result without findings, got %+v", res)
	}
	if results.Len() != 0 {
		t.Error("timed out results must not be cached")
	}
}

func TestExecutor_SkipsUnknownAndOversized(t *testing.T) {
	r, err := rules.NewRegistry(config.DefaultConfig(), rules.WithSecurityPolicy(rules.SecurityPolicy{MaxFileSize: 8}))
	if err != nil {
		t.Fatal(err)
	}
	e := NewExecutor(r.Snapshot(), ExecutorOptions{})

	res, err := e.AnalyzeFile(context.Background(), "notes.txt", []byte("hello"))
	if err != nil || !res.Skipped {
		t.Errorf("unknown extension should be skipped: %+v, %v", res, err)
	}

	res, err = e.AnalyzeFile(context.Background(), "big.py", []byte("x = 1234567890\n"))
	if err != nil || !res.Skipped || !strings.Contains(res.SkipReason, "exceeds") {
		t.Errorf("oversized file should be skipped: %+v, %v", res, err)
	}
}

func TestExecutor_CheckPanicBecomesFinding(t *testing.T) {
	e := NewExecutor(defaultSnapshot(t), ExecutorOptions{})
	root := parseSource(t, "python", parser.ParserTreeSitter, "class A:\n    pass\n")

	// a naming check without a compiled pattern dereferences nil
	broken := &rules.CheckDefinition{
		ID:       "broken_naming",
		Kind:     rules.KindNaming,
		Category: domain.CategoryAST,
		Severity: domain.SeverityLow,
		Target:   rules.TargetStruct,
	}
	issues, fault := e.runCheck(context.Background(), broken, "a.py", root, nil)
	if fault == nil {
		t.Fatal("expected a fault finding")
	}
	if len(issues) != 0 {
		t.Error("issues of a failed check are discarded")
	}
	if fault.CheckID != domain.CheckIDCheckExecutionError || fault.Severity != domain.SeverityHigh {
		t.Errorf("unexpected fault finding %+v", fault)
	}
	if !strings.Contains(fault.Message, "broken_naming") {
		t.Errorf("fault should name the check: %q", fault.Message)
	}
}
