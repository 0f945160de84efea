package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

var errBadRequest = errors.New("bad request")

// startRequest is the JSON body for POST /v1/operations and
// POST /v1/operations/wait. Exactly one of Duration, DurationMS and
// TargetTime must be set.
type startRequest struct {
	Duration   string `json:"duration"`
	DurationMS *int64 `json:"duration_ms"`
	TargetTime string `json:"target_time"`
	Message    string `json:"message"`
}

// startResponse is returned when a background operation is accepted.
type startResponse struct {
	engine.StartResult
	DurationMS  int64  `json:"duration_ms"`
	DurationStr string `json:"duration_str"`
	Message     string `json:"message,omitempty"`
}

// waitResponse is returned once a blocking operation is over.
type waitResponse struct {
	engine.BlockingResult
	ElapsedStr string `json:"elapsed_str"`
}

type cancelAllResponse struct {
	CancelledCount int `json:"cancelled_count"`
}

func (s *Server) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	req, kind, ok := s.decodeStart(w, r)
	if !ok {
		return
	}

	res, err := s.manager.StartNonBlocking(kind, req.Message)
	if err != nil {
		s.writeStartError(w, err)
		return
	}

	span := res.ExpectedEndAt.Sub(res.CreatedAt)
	s.writeJSON(w, http.StatusAccepted, startResponse{
		StartResult: res,
		DurationMS:  span.Milliseconds(),
		DurationStr: formatDuration(span),
		Message:     req.Message,
	})
}

func (s *Server) handleWaitOperation(w http.ResponseWriter, r *http.Request) {
	req, kind, ok := s.decodeStart(w, r)
	if !ok {
		return
	}

	res, err := s.manager.StartBlocking(r.Context(), kind, req.Message)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, waitResponse{
		BlockingResult: res,
		ElapsedStr:     formatDuration(time.Duration(res.ElapsedMS) * time.Millisecond),
	})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.StatusAll())
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.manager.Status(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation", "operation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	out, err := s.manager.Cancel(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel operation", "operation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel operation")
		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	out := s.manager.CancelAll()
	s.writeJSON(w, http.StatusOK, cancelAllResponse{CancelledCount: out.CancelledCount})
}

// decodeStart reads a start request and converts it to a kind. On failure it
// writes the error response and returns ok=false.
func (s *Server) decodeStart(w http.ResponseWriter, r *http.Request) (startRequest, model.Kind, bool) {
	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, model.Kind{}, false
	}

	kind, err := req.kind(s.manager.Now())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, model.Kind{}, false
	}
	return req, kind, true
}

// kind converts the request into a validated-shape kind. Range checks
// against the configured ceiling happen in the manager.
func (req startRequest) kind(now time.Time) (model.Kind, error) {
	set := 0
	for _, present := range []bool{req.Duration != "", req.DurationMS != nil, req.TargetTime != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return model.Kind{}, fmt.Errorf("%w: exactly one of duration, duration_ms or target_time is required", errBadRequest)
	}

	switch {
	case req.Duration != "":
		d, err := parseDuration(req.Duration)
		if err != nil {
			return model.Kind{}, err
		}
		return model.ForDuration(d), nil

	case req.DurationMS != nil:
		if *req.DurationMS < 0 {
			return model.Kind{}, fmt.Errorf("%w: duration_ms must not be negative", errBadRequest)
		}
		if *req.DurationMS > math.MaxInt64/int64(time.Millisecond) {
			return model.Kind{}, fmt.Errorf("%w: duration_ms is out of range", errBadRequest)
		}
		return model.ForDuration(time.Duration(*req.DurationMS) * time.Millisecond), nil

	default:
		target, err := time.Parse(time.RFC3339Nano, req.TargetTime)
		if err != nil {
			return model.Kind{}, fmt.Errorf("%w: invalid timestamp %q", errBadRequest, req.TargetTime)
		}
		if !target.After(now) {
			return model.Kind{}, fmt.Errorf("%w: target time %s is in the past", errBadRequest, req.TargetTime)
		}
		return model.UntilDeadline(target), nil
	}
}

// writeStartError maps manager start errors to HTTP status codes.
func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidKind):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrExceedsLimit):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrTooManyActive):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error("start operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start operation")
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
