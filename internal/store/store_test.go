package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "findings.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func finding(path string, line int, checkID string, sev domain.Severity) domain.Finding {
	f := domain.Finding{
		Path:     path,
		Span:     domain.Span{File: path, StartLine: line, StartCol: 1, EndLine: line, EndCol: 10},
		CheckID:  checkID,
		Category: domain.CategoryAST,
		Severity: sev,
		Message:  fmt.Sprintf("%s at line %d", checkID, line),
	}
	f.AssignID()
	return f
}

func newSession(id string, started time.Time, findings ...domain.Finding) *domain.AnalysisSession {
	return &domain.AnalysisSession{
		ID:          id,
		Target:      "src",
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
		ConfigHash:  "cfg",
		Config:      []byte(`{"analysis":{"timeout":30}}`),
		Files:       []domain.FileResult{{Path: "a.py", Language: "python"}},
		Findings:    findings,
		Summary:     domain.NewSessionSummary(),
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_TablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"sessions", "findings"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
	require.NoError(t, s.Migrate())
}

func TestNewStore_CreatesParentDirectory(t *testing.T) {
	t.Parallel()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "dir", "findings.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

// =============================================================================
// Sessions
// =============================================================================

func TestSaveAndGetSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	withExtras := finding("a.py", 3, "resource_lifetime", domain.SeverityHigh)
	withExtras.Snippet = "f = open(p)"
	withExtras.Suggestions = []string{"release 'f' on every path"}
	withExtras.Related = []domain.Span{{StartLine: 7, StartCol: 5}}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := newSession("s1", started, finding("b.py", 1, "type_hints", domain.SeverityLow), withExtras)
	session.Summary.TotalFindings = 2
	session.Summary.BySeverity[domain.SeverityHigh] = 1

	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "src", got.Target)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, "cfg", got.ConfigHash)
	assert.JSONEq(t, string(session.Config), string(got.Config))
	assert.Equal(t, 2, got.Summary.TotalFindings)
	assert.Equal(t, 1, got.Summary.BySeverity[domain.SeverityHigh])
	require.Len(t, got.Files, 1)
	assert.Equal(t, session.Findings, got.Findings, "findings keep their stored order and every field")
}

func TestSaveSession_ReplacesExisting(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveSession(ctx, newSession("s1", now, finding("a.py", 1, "x", domain.SeverityLow))))
	require.NoError(t, s.SaveSession(ctx, newSession("s1", now)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Findings)
}

func TestSaveSession_RequiresID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	err := s.SaveSession(context.Background(), &domain.AnalysisSession{})
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidInput))
}

func TestGetSession_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, domain.IsCode(err, domain.ErrCodeStoreError))
}

func TestListSessions_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSession(ctx, newSession("old", base, finding("a.py", 1, "x", domain.SeverityLow))))
	require.NoError(t, s.SaveSession(ctx, newSession("new", base.Add(time.Hour))))

	infos, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new", infos[0].ID)
	assert.Equal(t, 1, infos[1].FindingCount)

	limited, err := s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSession_CascadesFindings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, newSession("s1", time.Now(),
		finding("a.py", 1, "x", domain.SeverityLow),
		finding("a.py", 2, "x", domain.SeverityLow))))
	require.NoError(t, s.DeleteSession(ctx, "s1"))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM findings").Scan(&n))
	assert.Zero(t, n)

	err := s.DeleteSession(ctx, "s1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// =============================================================================
// Query
// =============================================================================

func seedQuerySessions(t *testing.T, s *Store) time.Time {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	regex := finding("src/z.py", 4, "line_length", domain.SeverityLow)
	regex.Category = domain.CategoryRegex
	regex.AssignID()

	require.NoError(t, s.SaveSession(ctx, newSession("s1", base,
		finding("src/b.py", 9, "resource_lifetime", domain.SeverityHigh),
		finding("src/a.py", 12, "unsafe_functions", domain.SeverityHigh),
		finding("src/a.py", 3, "struct_naming", domain.SeverityMedium),
		regex,
	)))
	require.NoError(t, s.SaveSession(ctx, newSession("s2", base.Add(24*time.Hour),
		finding("lib/c.py", 1, "unsafe_functions", domain.SeverityHigh),
		finding("src/a.py", 5, "ownership", domain.SeverityHigh),
	)))
	return base
}

func paths(findings []domain.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = fmt.Sprintf("%s:%d", f.Path, f.Span.StartLine)
	}
	return out
}

func TestQuery_Predicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	base := seedQuerySessions(t, s)

	tests := []struct {
		name string
		pred domain.QueryPredicate
		want []string
	}{
		{"everything", domain.QueryPredicate{}, []string{"lib/c.py:1", "src/a.py:3", "src/a.py:5", "src/a.py:12", "src/b.py:9", "src/z.py:4"}},
		{"min severity high", domain.QueryPredicate{MinSeverity: domain.SeverityHigh}, []string{"lib/c.py:1", "src/a.py:5", "src/a.py:12", "src/b.py:9"}},
		{"regex category", domain.QueryPredicate{Categories: []domain.CheckCategory{domain.CategoryRegex}}, []string{"src/z.py:4"}},
		{"path prefix", domain.QueryPredicate{PathPrefix: "src/a"}, []string{"src/a.py:3", "src/a.py:5", "src/a.py:12"}},
		{"session", domain.QueryPredicate{SessionID: "s2"}, []string{"lib/c.py:1", "src/a.py:5"}},
		{"check ids", domain.QueryPredicate{CheckIDs: []string{"unsafe_functions"}}, []string{"lib/c.py:1", "src/a.py:12"}},
		{"since", domain.QueryPredicate{Since: base.Add(time.Hour)}, []string{"lib/c.py:1", "src/a.py:5"}},
		{"until", domain.QueryPredicate{Until: base.Add(time.Hour), MinSeverity: domain.SeverityMedium}, []string{"src/a.py:3", "src/a.py:12", "src/b.py:9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Query(context.Background(), tt.pred, domain.QueryLimits{MaxResults: 100, Timeout: time.Minute})
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(res.Findings))
			assert.False(t, res.TimedOut)
			assert.False(t, res.Truncated)
		})
	}
}

func TestQuery_MaxResultsTruncates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedQuerySessions(t, s)

	res, err := s.Query(context.Background(),
		domain.QueryPredicate{MinSeverity: domain.SeverityHigh},
		domain.QueryLimits{MaxResults: 2, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/c.py:1", "src/a.py:5"}, paths(res.Findings))
	assert.True(t, res.Truncated)

	exact, err := s.Query(context.Background(),
		domain.QueryPredicate{MinSeverity: domain.SeverityHigh},
		domain.QueryLimits{MaxResults: 4, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Len(t, exact.Findings, 4)
	assert.False(t, exact.Truncated, "a page that exactly fits is not truncated")
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestQuery_TimeoutReturnsPartialResults(t *testing.T) {
	t.Parallel()
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	s := newTestStore(t, WithClock(clock.Now))
	seedQuerySessions(t, s)

	// deadline at +2.5s: rows checked at +1s and +2s are read, +3s is past it
	res, err := s.Query(context.Background(), domain.QueryPredicate{},
		domain.QueryLimits{MaxResults: 100, Timeout: 2500 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, []string{"lib/c.py:1", "src/a.py:3"}, paths(res.Findings))
}

func TestQuery_CanceledContext(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedQuerySessions(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Query(ctx, domain.QueryPredicate{}, domain.QueryLimits{MaxResults: 10})
	assert.Error(t, err)
}

func TestQuery_IsReadOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedQuerySessions(t, s)

	count := func() int {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM findings").Scan(&n))
		return n
	}
	before := count()
	_, err := s.Query(context.Background(), domain.QueryPredicate{MinSeverity: domain.SeverityLow}, domain.QueryLimits{MaxResults: 1})
	require.NoError(t, err)
	assert.Equal(t, before, count())
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(domain.QueryPredicate{
		Categories:  []domain.CheckCategory{domain.CategoryAST, domain.CategoryRegex},
		MinSeverity: domain.SeverityMedium,
	})
	assert.Equal(t, "category IN (?,?) AND severity_rank >= ?", where)
	assert.Equal(t, []any{"ast", "regex", 2}, args)

	where, args = buildWhere(domain.QueryPredicate{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
