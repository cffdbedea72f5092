package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
)

// QueryService applies default and maximum bounds before querying the store
type QueryService struct {
	store          domain.FindingStore
	defaultResults int
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewQueryService creates a query service. Zero defaults fall back to 100
// results and 30 seconds.
func NewQueryService(store domain.FindingStore, qc config.QueryConfig, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := qc.MaxResults
	if results <= 0 {
		results = config.DefaultQueryMaxResults
	}
	timeout := time.Duration(qc.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultQueryTimeoutSeconds * time.Second
	}
	return &QueryService{store: store, defaultResults: results, defaultTimeout: timeout, logger: logger}
}

// ResolveLimits fills unset limits with the defaults and caps max results
func (s *QueryService) ResolveLimits(limits domain.QueryLimits) domain.QueryLimits {
	if limits.MaxResults <= 0 {
		limits.MaxResults = s.defaultResults
	}
	if limits.MaxResults > config.MaxQueryResults {
		limits.MaxResults = config.MaxQueryResults
	}
	if limits.Timeout <= 0 {
		limits.Timeout = s.defaultTimeout
	}
	return limits
}

// Query validates the predicate and runs it against the store
func (s *QueryService) Query(ctx context.Context, pred domain.QueryPredicate, limits domain.QueryLimits) (*domain.QueryResult, error) {
	if pred.MinSeverity != "" && !pred.MinSeverity.IsValid() {
		return nil, domain.NewInvalidInputError("invalid minimum severity '"+string(pred.MinSeverity)+"'", nil)
	}
	for _, c := range pred.Categories {
		if _, err := domain.ParseCheckCategory(string(c)); err != nil {
			return nil, domain.NewInvalidInputError("invalid category filter", err)
		}
	}
	if !pred.Since.IsZero() && !pred.Until.IsZero() && pred.Until.Before(pred.Since) {
		return nil, domain.NewInvalidInputError("until must not be before since", nil)
	}

	limits = s.ResolveLimits(limits)
	result, err := s.store.Query(ctx, pred, limits)
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		s.logger.Warn("query timed out", zap.Duration("timeout", limits.Timeout), zap.Int("partial_results", len(result.Findings)))
	}
	return result, nil
}
