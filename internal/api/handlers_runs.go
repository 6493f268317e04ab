package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/adgmcheck/internal/archive"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
)

type runResponse struct {
	pipeline.RunSnapshot
	Result *pipeline.Result `json:"result,omitempty"`
}

// handleGetRun reports a run's progress and, once terminal, its result.
// Runs no longer held in memory are served from the archive.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if run := s.opts.Queue.GetRun(runID); run != nil {
		resp := runResponse{RunSnapshot: run.Snapshot()}
		if res, ok := run.Result(); ok {
			resp.Result = &res
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.opts.Archive == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	res, err := s.opts.Archive.Get(r.Context(), runID)
	if errors.Is(err, archive.ErrNotFound) {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("archive lookup failed", "run_id", runID, "error", err)
		jsonError(w, "archive lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunSnapshot: pipeline.RunSnapshot{
			ID:          res.RunID,
			Status:      res.Status,
			Documents:   len(res.Documents) + len(res.Exclusions),
			CreatedAt:   res.StartedAt,
			UpdatedAt:   res.CompletedAt,
			Transitions: []pipeline.Transition{},
			Errors:      []string{},
		},
		Result: &res,
	})
}

// handleListRuns lists archived runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		jsonError(w, "run archive unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	runs, err := s.opts.Archive.List(r.Context(), limit)
	if err != nil {
		s.log.Error("archive list failed", "error", err)
		jsonError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
