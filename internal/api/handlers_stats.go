package api

import (
	"net/http"
)

func (s *Server) handleAdvisoryStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdvisoryStats == nil {
		jsonError(w, "advisory stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model": s.opts.AdvisoryModel,
		"stats": s.opts.AdvisoryStats.Snapshot(),
	})
}

// handleIndexReload loads a fresh corpus index and publishes it. In-flight
// checks keep the index they started with.
func (s *Server) handleIndexReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.LoadIndex == nil || s.opts.Index == nil {
		jsonError(w, "index reload not configured", http.StatusServiceUnavailable)
		return
	}
	idx, err := s.opts.LoadIndex(r.Context())
	if err != nil {
		s.log.Error("index reload failed", "error", err)
		jsonError(w, "index reload failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	previous := s.opts.Index.Version()
	s.opts.Index.Swap(idx)
	s.log.Info("index reloaded", "previous_version", previous, "index_version", idx.Version())
	writeJSON(w, http.StatusOK, map[string]any{
		"previous_version": previous,
		"index_version":    idx.Version(),
	})
}
