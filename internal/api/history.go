package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/hourglass/internal/model"
	"github.com/seantiz/hourglass/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listHistoryResponse wraps the paginated archive listing.
type listHistoryResponse struct {
	Operations []*model.Operation `json:"operations"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ops, total, err := s.store.ListOperations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if ops == nil {
		ops = []*model.Operation{}
	}

	s.writeJSON(w, http.StatusOK, listHistoryResponse{
		Operations: ops,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found in history")
		return
	}
	if err != nil {
		s.logger.Error("get history", "operation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, op)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
