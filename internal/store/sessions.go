package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ludo-technologies/sentinel/domain"
)

// SaveSession persists a completed session and all of its findings in one
// transaction. Saving an id that already exists replaces it.
func (s *Store) SaveSession(ctx context.Context, session *domain.AnalysisSession) error {
	if session == nil || session.ID == "" {
		return domain.NewInvalidInputError("session id is required", nil)
	}
	summary, err := json.Marshal(session.Summary)
	if err != nil {
		return domain.NewStoreError("encode summary", err)
	}
	files, err := json.Marshal(session.Files)
	if err != nil {
		return domain.NewStoreError("encode files", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", session.ID); err != nil {
		return domain.NewStoreError("replace session", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, target, started_at, completed_at, config_hash, config, summary, files)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Target, toUnix(session.StartedAt), toUnix(session.CompletedAt),
		session.ConfigHash, []byte(session.Config), string(summary), string(files),
	); err != nil {
		return domain.NewStoreError("insert session", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO findings (session_id, finding_id, seq, path, start_line, start_col, end_line, end_col,
			start_offset, end_offset, check_id, category, severity, severity_rank, message, snippet,
			suggestions, related, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.NewStoreError("prepare finding insert", err)
	}
	defer stmt.Close()

	recorded := toUnix(session.StartedAt)
	for i, f := range session.Findings {
		if _, err := stmt.ExecContext(ctx,
			session.ID, f.ID, i, f.Path,
			f.Span.StartLine, f.Span.StartCol, f.Span.EndLine, f.Span.EndCol,
			f.Span.StartOffset, f.Span.EndOffset,
			f.CheckID, string(f.Category), string(f.Severity), f.Severity.Rank(),
			f.Message, f.Snippet, marshalList(f.Suggestions), marshalList(f.Related), recorded,
		); err != nil {
			return domain.NewStoreError(fmt.Sprintf("insert finding %s", f.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("commit session", err)
	}
	s.logger.Debug("session saved")
	return nil
}

// GetSession loads a session with its findings in stored order.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.AnalysisSession, error) {
	session := &domain.AnalysisSession{ID: id}
	var started, completed int64
	var config []byte
	var summary, files sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT target, started_at, completed_at, config_hash, config, summary, files FROM sessions WHERE id = ?", id,
	).Scan(&session.Target, &started, &completed, &session.ConfigHash, &config, &summary, &files)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewStoreError(fmt.Sprintf("session %s", id), ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStoreError("get session", err)
	}
	session.StartedAt = fromUnix(started)
	session.CompletedAt = fromUnix(completed)
	if len(config) > 0 {
		session.Config = json.RawMessage(config)
	}
	session.Summary = domain.NewSessionSummary()
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &session.Summary); err != nil {
			return nil, domain.NewStoreError("decode summary", err)
		}
	}
	if files.Valid && files.String != "" && files.String != "null" {
		if err := json.Unmarshal([]byte(files.String), &session.Files); err != nil {
			return nil, domain.NewStoreError("decode files", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+findingColumns+" FROM findings WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, domain.NewStoreError("load findings", err)
	}
	defer rows.Close()
	session.Findings = []domain.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, domain.NewStoreError("scan finding", err)
		}
		session.Findings = append(session.Findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("load findings", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions first. A limit of zero or
// less lists every session.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.SessionInfo, error) {
	query := `SELECT s.id, s.target, s.started_at, s.completed_at, s.config_hash,
		(SELECT COUNT(*) FROM findings f WHERE f.session_id = s.id)
		FROM sessions s ORDER BY s.started_at DESC, s.id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStoreError("list sessions", err)
	}
	defer rows.Close()

	var infos []domain.SessionInfo
	for rows.Next() {
		var info domain.SessionInfo
		var started, completed int64
		if err := rows.Scan(&info.ID, &info.Target, &started, &completed, &info.ConfigHash, &info.FindingCount); err != nil {
			return nil, domain.NewStoreError("scan session", err)
		}
		info.StartedAt = fromUnix(started)
		info.CompletedAt = fromUnix(completed)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list sessions", err)
	}
	return infos, nil
}

// DeleteSession removes a session. Its findings go with it.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return domain.NewStoreError("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError("delete session", err)
	}
	if n == 0 {
		return domain.NewStoreError(fmt.Sprintf("session %s", id), ErrNotFound)
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
