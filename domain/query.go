package domain

import (
	"strings"
	"time"
)

// QueryPredicate selects persisted findings. Zero-valued fields match everything.
type QueryPredicate struct {
	Categories  []CheckCategory `json:"categories,omitempty"`
	MinSeverity Severity        `json:"min_severity,omitempty"`
	PathPrefix  string          `json:"path_prefix,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	CheckIDs    []string        `json:"check_ids,omitempty"`
	Since       time.Time       `json:"since,omitempty"`
	Until       time.Time       `json:"until,omitempty"`
}

// Matches evaluates the predicate against a finding recorded at the given time
func (p QueryPredicate) Matches(f Finding, sessionID string, recordedAt time.Time) bool {
	if len(p.Categories) > 0 {
		found := false
		for _, c := range p.Categories {
			if c == f.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.MinSeverity != "" && !f.Severity.AtLeast(p.MinSeverity) {
		return false
	}
	if p.PathPrefix != "" && !strings.HasPrefix(f.Path, p.PathPrefix) {
		return false
	}
	if p.SessionID != "" && p.SessionID != sessionID {
		return false
	}
	if len(p.CheckIDs) > 0 {
		found := false
		for _, id := range p.CheckIDs {
			if id == f.CheckID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !p.Since.IsZero() && recordedAt.Before(p.Since) {
		return false
	}
	if !p.Until.IsZero() && recordedAt.After(p.Until) {
		return false
	}
	return true
}

// QueryLimits bound the size and duration of a query
type QueryLimits struct {
	MaxResults int
	Timeout    time.Duration
}

// QueryResult holds matched findings sorted by (path, line). TimedOut is set
// when the scan was cut short and Findings holds only what was read.
type QueryResult struct {
	Findings  []Finding `json:"findings" yaml:"findings"`
	TimedOut  bool      `json:"timed_out" yaml:"timed_out"`
	Truncated bool      `json:"truncated" yaml:"truncated"`
}
