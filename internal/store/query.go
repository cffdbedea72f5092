package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ludo-technologies/sentinel/domain"
	"go.uber.org/zap"
)

const findingColumns = `finding_id, path, start_line, start_col, end_line, end_col, start_offset, end_offset,
	check_id, category, severity, message, snippet, suggestions, related`

// Query returns findings matching pred ordered by (path, line). The scan is
// read-only and bounded: at most limits.MaxResults findings are returned, and
// when limits.Timeout elapses the rows read so far are returned with TimedOut
// set.
func (s *Store) Query(ctx context.Context, pred domain.QueryPredicate, limits domain.QueryLimits) (*domain.QueryResult, error) {
	result := &domain.QueryResult{Findings: []domain.Finding{}}

	where, args := buildWhere(pred)
	query := "SELECT " + findingColumns + " FROM findings"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY path, start_line, start_col, check_id, id"
	if limits.MaxResults > 0 {
		// one extra row tells a full page from a truncated one
		query += " LIMIT ?"
		args = append(args, limits.MaxResults+1)
	}

	qctx := ctx
	deadline := s.now().Add(limits.Timeout)
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			result.TimedOut = true
			return result, nil
		}
		return nil, domain.NewStoreError("query findings", err)
	}
	defer rows.Close()

	for rows.Next() {
		if limits.MaxResults > 0 && len(result.Findings) == limits.MaxResults {
			result.Truncated = true
			break
		}
		if limits.Timeout > 0 && s.now().After(deadline) {
			result.TimedOut = true
			break
		}
		f, err := scanFinding(rows)
		if err != nil {
			return nil, domain.NewStoreError("scan finding", err)
		}
		result.Findings = append(result.Findings, f)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewStoreError("query findings", err)
		}
		result.TimedOut = true
	}
	if result.TimedOut {
		s.logger.Warn("query timed out, returning partial results",
			zap.Int("findings", len(result.Findings)),
			zap.Duration("timeout", limits.Timeout))
	}
	return result, nil
}

func buildWhere(pred domain.QueryPredicate) (string, []any) {
	var clauses []string
	var args []any

	if len(pred.Categories) > 0 {
		clauses = append(clauses, "category IN ("+placeholderList(len(pred.Categories))+")")
		for _, c := range pred.Categories {
			args = append(args, string(c))
		}
	}
	if pred.MinSeverity != "" {
		clauses = append(clauses, "severity_rank >= ?")
		args = append(args, pred.MinSeverity.Rank())
	}
	if pred.PathPrefix != "" {
		clauses = append(clauses, "substr(path, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(pred.PathPrefix), pred.PathPrefix)
	}
	if pred.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, pred.SessionID)
	}
	if len(pred.CheckIDs) > 0 {
		clauses = append(clauses, "check_id IN ("+placeholderList(len(pred.CheckIDs))+")")
		for _, id := range pred.CheckIDs {
			args = append(args, id)
		}
	}
	if !pred.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, pred.Since.UnixNano())
	}
	if !pred.Until.IsZero() {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, pred.Until.UnixNano())
	}
	return strings.Join(clauses, " AND "), args
}

func scanFinding(rows *sql.Rows) (domain.Finding, error) {
	var f domain.Finding
	var category, severity string
	var snippet, suggestions, related sql.NullString
	err := rows.Scan(&f.ID, &f.Path,
		&f.Span.StartLine, &f.Span.StartCol, &f.Span.EndLine, &f.Span.EndCol,
		&f.Span.StartOffset, &f.Span.EndOffset,
		&f.CheckID, &category, &severity, &f.Message, &snippet, &suggestions, &related)
	if err != nil {
		return f, err
	}
	f.Span.File = f.Path
	f.Category = domain.CheckCategory(category)
	f.Severity = domain.Severity(severity)
	f.Snippet = snippet.String
	unmarshalList(suggestions.String, &f.Suggestions)
	unmarshalList(related.String, &f.Related)
	return f, nil
}

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// marshalList converts a slice to JSON text for storage; empty slices store NULL.
func marshalList[T any](items []T) any {
	if len(items) == 0 {
		return nil
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func unmarshalList[T any](s string, out *[]T) {
	if s == "" || s == "null" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}
