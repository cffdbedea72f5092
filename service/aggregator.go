package service

import (
	"sort"
	"sync"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
)

// Aggregator accumulates per-file results into one session. Add is safe for
// concurrent use by the analysis workers.
type Aggregator struct {
	mu             sync.Mutex
	session        *domain.AnalysisSession
	maxSuggestions int
}

// NewAggregator starts accumulating into session. Suggestions beyond
// maxSuggestions per finding are dropped.
func NewAggregator(session *domain.AnalysisSession, maxSuggestions int) *Aggregator {
	if session.Findings == nil {
		session.Findings = []domain.Finding{}
	}
	return &Aggregator{session: session, maxSuggestions: maxSuggestions}
}

// Add merges the result of one file
func (a *Aggregator) Add(res domain.FileResult) {
	findings := make([]domain.Finding, len(res.Findings))
	for i, f := range res.Findings {
		f.Suggestions = truncateSuggestions(f.Suggestions, a.maxSuggestions)
		findings[i] = f
	}
	res.Findings = nil

	a.mu.Lock()
	defer a.mu.Unlock()
	a.session.Files = append(a.session.Files, res)
	a.session.Findings = append(a.session.Findings, findings...)
}

// Finish orders files and findings, computes the summary and stamps the
// completion time. The session must not be modified afterwards.
func (a *Aggregator) Finish(completedAt time.Time) *domain.AnalysisSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.Slice(a.session.Files, func(i, j int) bool {
		return a.session.Files[i].Path < a.session.Files[j].Path
	})
	domain.SortFindingsByPath(a.session.Findings)
	a.session.Summary = Summarize(a.session.Files, a.session.Findings)
	a.session.CompletedAt = completedAt
	return a.session
}

// Summarize counts findings per category, severity and check, and files per outcome
func Summarize(files []domain.FileResult, findings []domain.Finding) domain.SessionSummary {
	s := domain.NewSessionSummary()
	s.TotalFindings = len(findings)
	for _, f := range findings {
		s.ByCategory[f.Category]++
		s.BySeverity[f.Severity]++
		s.ByCheck[f.CheckID]++
	}
	for _, fr := range files {
		if fr.Skipped {
			s.FilesSkipped++
			continue
		}
		s.FilesAnalyzed++
		if fr.FromCache {
			s.FilesCached++
		}
		if fr.ParseFailed {
			s.ParseErrors++
		}
		if fr.ParseTimedOut {
			s.ParseTimeouts++
		}
		if fr.TimedOut {
			s.FileTimeouts++
		}
	}
	return s
}

func truncateSuggestions(suggestions []string, max int) []string {
	if len(suggestions) == 0 {
		return nil
	}
	if max <= 0 {
		return nil
	}
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	return append([]string(nil), suggestions...)
}
