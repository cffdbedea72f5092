package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/store"
	"github.com/ludo-technologies/sentinel/internal/version"
)

// AnalyzeRequest is the body of POST /api/v1/analyze
type AnalyzeRequest struct {
	Paths []string `json:"paths"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, domain.NewInvalidInputError("invalid json", err))
		return
	}
	if len(req.Paths) == 0 {
		s.fail(w, r, http.StatusBadRequest, domain.NewInvalidInputError("paths is required", nil))
		return
	}

	session, err := s.analyzer.Execute(r.Context(), req.Paths)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, session)
}

func (s *Server) findings(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		s.fail(w, r, http.StatusServiceUnavailable, domain.NewConfigError("findings store is disabled", nil))
		return
	}
	req, err := queryRequestFrom(r.URL.Query())
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.querier.ExecuteRequest(r.Context(), req)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.fail(w, r, http.StatusServiceUnavailable, domain.NewConfigError("findings store is disabled", nil))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, http.StatusBadRequest, domain.NewInvalidInputError("invalid limit", err))
			return
		}
		limit = n
	}
	infos, err := s.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	if infos == nil {
		infos = []domain.SessionInfo{}
	}
	render.JSON(w, r, infos)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.fail(w, r, http.StatusServiceUnavailable, domain.NewConfigError("findings store is disabled", nil))
		return
	}
	session, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, session)
}

// queryRequestFrom reads filters from URL parameters; list parameters may
// repeat or hold comma-separated values
func queryRequestFrom(q url.Values) (app.QueryRequest, error) {
	req := app.QueryRequest{
		Severity:   q.Get("severity"),
		Categories: q["category"],
		PathPrefix: q.Get("path_prefix"),
		SessionID:  q.Get("session"),
		CheckIDs:   q["check"],
		Since:      q.Get("since"),
		Until:      q.Get("until"),
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, domain.NewInvalidInputError("invalid max_results", err)
		}
		req.MaxResults = n
	}
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, convErr := strconv.Atoi(v)
			if convErr != nil {
				return req, domain.NewInvalidInputError("invalid timeout", err)
			}
			d = time.Duration(secs) * time.Second
		}
		req.Timeout = d
	}
	return req, nil
}

func statusFor(err error) int {
	var de domain.DomainError
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Code {
	case domain.ErrCodeInvalidInput, domain.ErrCodeParseError, domain.ErrCodeConfigError:
		return http.StatusBadRequest
	case domain.ErrCodeFileNotFound:
		return http.StatusNotFound
	case domain.ErrCodePolicyViolation:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var de domain.DomainError
	if errors.As(err, &de) {
		resp.Code = de.Code
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
