package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/audit/internal/health"
	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

// recentLimit is the number of issues shown on the status overview.
const recentLimit = 8

// Server provides the REST API handlers.
type Server struct {
	svc        *reminder.Service
	policyPath string
	scorer     *health.Scorer
	logger     *slog.Logger
}

// NewServer creates a new API server. policyPath is the policy document
// written by PUT /api/v1/policy.
func NewServer(svc *reminder.Service, policyPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:        svc,
		policyPath: policyPath,
		scorer:     health.NewScorer(),
		logger:     logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}", s.updateIssue)
	mux.HandleFunc("DELETE /api/v1/issues/{id}", s.deleteIssue)
	mux.HandleFunc("POST /api/v1/issues/{id}/remind", s.remindIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}/reminders", s.issueReminders)

	mux.HandleFunc("GET /api/v1/reminders/due", s.dueReminders)
	mux.HandleFunc("POST /api/v1/reminders/overdue", s.sendOverdue)
	mux.HandleFunc("POST /api/v1/reminders/due-soon", s.sendDueSoon)
	mux.HandleFunc("GET /api/v1/reminders/log", s.reminderLog)

	mux.HandleFunc("GET /api/v1/policy", s.getPolicy)
	mux.HandleFunc("PUT /api/v1/policy", s.putPolicy)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)

	return s.logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps not-found and validation errors to 4xx.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case models.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	var filter store.IssueListFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}
	if v := q.Get("priority"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Priority = p
	}
	filter.Team = q.Get("team")

	issues, err := s.svc.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.svc.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var in models.IssueInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	issue, err := s.svc.CreateIssue(r.Context(), in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// updateIssue merges the JSON body over the stored editable fields. Keys
// absent from the body keep their value; "resolution_date": "" clears the
// deadline.
func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issue, err := s.svc.UpdateIssue(r.Context(), r.PathValue("id"), func(issue *models.Issue) error {
		in := models.InputFromIssue(issue)
		if err := json.Unmarshal(body, &in); err != nil {
			return &models.ValidationError{Field: "body", Message: err.Error()}
		}
		return in.ApplyTo(issue)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteIssue(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Reminders ---

func (s *Server) remindIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.GetIssue(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	issue, err := s.svc.SendOne(r.Context(), id)
	if err != nil {
		// The issue exists, so this is a handoff failure and is retryable.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) issueReminders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.GetIssue(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	entries, err := s.svc.ReminderHistory(r.Context(), id, limitParam(r, 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.ReminderLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) reminderLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ReminderHistory(r.Context(), "", limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.ReminderLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) dueReminders(w http.ResponseWriter, r *http.Request) {
	due, err := s.svc.DuePreview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if due == nil {
		due = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, due)
}

func (s *Server) sendOverdue(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SendOverdue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sendDueSoon(w http.ResponseWriter, r *http.Request) {
	days := health.DueSoonDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid days %q", v))
			return
		}
		days = n
	}
	res, err := s.svc.SendDueWithin(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// --- Policy ---

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Policy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// putPolicy replaces the whole policy document. The body is read like the
// policy file, so days_before and a missing enabled flag mean the same
// thing here as on disk. The scheduler picks it up on its next cycle.
func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	cfg, err := policy.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := policy.Save(s.policyPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Status ---

type statusResponse struct {
	Date    models.Date         `json:"date"`
	Summary health.Summary      `json:"summary"`
	Teams   []*health.TeamScore `json:"teams"`
	Recent  []*models.Issue     `json:"recent"`
	DueNow  int                 `json:"due_now"`
}

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issues, err := s.svc.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	today := s.svc.Today()

	resp := statusResponse{
		Date:    today,
		Summary: health.Summarize(issues, today),
		Teams:   s.scorer.Teams(issues, today),
		Recent:  health.Recent(issues, recentLimit),
	}
	if due, err := s.svc.DuePreview(ctx); err == nil {
		resp.DueNow = len(due)
	} else {
		s.logger.Warn("status: due preview failed", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}
