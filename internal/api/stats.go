package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats. Archive figures
// cover finished operations; Active and Tracked describe the live registry.
type statsResponse struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByKind       map[string]int `json:"by_kind"`
	AvgElapsedMS float64        `json:"avg_elapsed_ms"`
	Active       int            `json:"active"`
	Tracked      int            `json:"tracked"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetOperationStats(r.Context())
	if err != nil {
		s.logger.Error("get operation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	live := s.manager.StatusAll()
	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:        stats.Total,
		ByStatus:     stats.CountByStatus,
		ByKind:       stats.CountByKind,
		AvgElapsedMS: stats.AvgElapsedMS,
		Active:       live.ActiveCount,
		Tracked:      len(live.Operations),
	})
}
