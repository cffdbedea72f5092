package service

import (
	"context"
	"testing"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
)

// fakeFindingStore records the limits it was queried with
type fakeFindingStore struct {
	domain.FindingStore
	limits domain.QueryLimits
	result *domain.QueryResult
	calls  int
}

func (f *fakeFindingStore) Query(_ context.Context, _ domain.QueryPredicate, limits domain.QueryLimits) (*domain.QueryResult, error) {
	f.calls++
	f.limits = limits
	if f.result == nil {
		return &domain.QueryResult{Findings: []domain.Finding{}}, nil
	}
	return f.result, nil
}

func TestQueryService_ResolveLimits(t *testing.T) {
	svc := NewQueryService(&fakeFindingStore{}, config.QueryConfig{}, nil)

	tests := []struct {
		name string
		in   domain.QueryLimits
		want domain.QueryLimits
	}{
		{"defaults", domain.QueryLimits{}, domain.QueryLimits{MaxResults: 100, Timeout: 30 * time.Second}},
		{"explicit", domain.QueryLimits{MaxResults: 5, Timeout: time.Second}, domain.QueryLimits{MaxResults: 5, Timeout: time.Second}},
		{"capped", domain.QueryLimits{MaxResults: 50000}, domain.QueryLimits{MaxResults: config.MaxQueryResults, Timeout: 30 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.ResolveLimits(tt.in); got != tt.want {
				t.Errorf("ResolveLimits(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryService_ConfiguredDefaults(t *testing.T) {
	svc := NewQueryService(&fakeFindingStore{}, config.QueryConfig{MaxResults: 20, TimeoutSeconds: 2}, nil)
	got := svc.ResolveLimits(domain.QueryLimits{})
	if got.MaxResults != 20 || got.Timeout != 2*time.Second {
		t.Errorf("configured defaults not applied: %+v", got)
	}
}

func TestQueryService_RejectsInvalidPredicates(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		pred domain.QueryPredicate
	}{
		{"severity", domain.QueryPredicate{MinSeverity: "critical"}},
		{"category", domain.QueryPredicate{Categories: []domain.CheckCategory{"lint"}}},
		{"window", domain.QueryPredicate{Since: since, Until: since.Add(-time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeFindingStore{}
			_, err := NewQueryService(store, config.QueryConfig{}, nil).Query(context.Background(), tt.pred, domain.QueryLimits{})
			if !domain.IsCode(err, domain.ErrCodeInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
			if store.calls != 0 {
				t.Error("an invalid predicate must not reach the store")
			}
		})
	}
}

func TestQueryService_DelegatesWithResolvedLimits(t *testing.T) {
	store := &fakeFindingStore{result: &domain.QueryResult{
		Findings: []domain.Finding{{Path: "a.py"}},
		TimedOut: true,
	}}
	svc := NewQueryService(store, config.QueryConfig{}, nil)

	res, err := svc.Query(context.Background(), domain.QueryPredicate{MinSeverity: domain.SeverityHigh}, domain.QueryLimits{MaxResults: 7})
	if err != nil {
		t.Fatal(err)
	}
	if store.limits.MaxResults != 7 || store.limits.Timeout != 30*time.Second {
		t.Errorf("store received %+v", store.limits)
	}
	if !res.TimedOut || len(res.Findings) != 1 {
		t.Errorf("partial result should pass through, got %+v", res)
	}
}
