package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/service"
)

// QueryRequest is the textual form of a query as it arrives from flags or
// URL parameters
type QueryRequest struct {
	Severity   string
	Categories []string
	PathPrefix string
	SessionID  string
	CheckIDs   []string
	// Since and Until accept RFC 3339, a date (2006-01-02) or a duration
	// meaning that long before now
	Since      string
	Until      string
	MaxResults int
	Timeout    time.Duration
}

// Build validates the request into a predicate and limits
func (r QueryRequest) Build(now time.Time) (domain.QueryPredicate, domain.QueryLimits, error) {
	var pred domain.QueryPredicate

	if r.Severity != "" {
		sev, err := domain.ParseSeverity(strings.ToLower(strings.TrimSpace(r.Severity)))
		if err != nil {
			return pred, domain.QueryLimits{}, domain.NewInvalidInputError("invalid severity filter", err)
		}
		pred.MinSeverity = sev
	}
	for _, c := range splitList(r.Categories) {
		cat, err := domain.ParseCheckCategory(strings.ToLower(c))
		if err != nil {
			return pred, domain.QueryLimits{}, domain.NewInvalidInputError("invalid category filter", err)
		}
		pred.Categories = append(pred.Categories, cat)
	}
	pred.PathPrefix = r.PathPrefix
	pred.SessionID = strings.TrimSpace(r.SessionID)
	pred.CheckIDs = splitList(r.CheckIDs)

	var err error
	if pred.Since, err = parseTimeBound(r.Since, now); err != nil {
		return pred, domain.QueryLimits{}, domain.NewInvalidInputError("invalid since", err)
	}
	if pred.Until, err = parseTimeBound(r.Until, now); err != nil {
		return pred, domain.QueryLimits{}, domain.NewInvalidInputError("invalid until", err)
	}

	if r.MaxResults < 0 {
		return pred, domain.QueryLimits{}, domain.NewInvalidInputError("max results cannot be negative", nil)
	}
	if r.Timeout < 0 {
		return pred, domain.QueryLimits{}, domain.NewInvalidInputError("timeout cannot be negative", nil)
	}
	return pred, domain.QueryLimits{MaxResults: r.MaxResults, Timeout: r.Timeout}, nil
}

// splitList flattens comma-separated entries and drops blanks
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseTimeBound(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("'%s' is neither a timestamp, a date nor a duration", s)
}

// QueryUseCase runs bounded queries over persisted findings
type QueryUseCase struct {
	service *service.QueryService
	now     func() time.Time
}

// NewQueryUseCase creates a query use case
func NewQueryUseCase(svc *service.QueryService) *QueryUseCase {
	return &QueryUseCase{service: svc, now: time.Now}
}

// Execute runs the predicate under the limits; a timeout is reported through
// QueryResult.TimedOut rather than an error
func (uc *QueryUseCase) Execute(ctx context.Context, pred domain.QueryPredicate, limits domain.QueryLimits) (*domain.QueryResult, error) {
	return uc.service.Query(ctx, pred, limits)
}

// ExecuteRequest builds and runs a textual request
func (uc *QueryUseCase) ExecuteRequest(ctx context.Context, req QueryRequest) (*domain.QueryResult, error) {
	pred, limits, err := req.Build(uc.now())
	if err != nil {
		return nil, err
	}
	return uc.Execute(ctx, pred, limits)
}
