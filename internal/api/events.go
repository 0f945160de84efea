package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/model"
)

const (
	eventStatus = "status"
	eventDone   = "done"
)

// handleStreamEvents streams an operation's snapshots as server-sent events:
// one "status" event with the current state, one per lifecycle transition,
// then "done" once the operation is terminal.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.manager.Status(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation for events", "operation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	// Subscribe on a finished topic yields a closed channel, so a transition
	// racing this call ends the loop instead of hanging it.
	ch, unsub := s.manager.Broker().Subscribe(id)
	defer unsub()

	// Re-read so a transition between the first read and Subscribe is seen.
	// An operation evicted in that window has ended and will publish nothing.
	cur, err := s.manager.Status(id)
	evicted := errors.Is(err, engine.ErrNotFound)
	if err == nil {
		snap = cur
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if err := writeSSESnapshot(w, snap); err != nil {
		return
	}
	if evicted || model.IsTerminal(snap.Status) {
		_ = writeSSEEvent(w, eventDone, "stream complete")
		flush()
		return
	}
	flush()

	for {
		select {
		case next, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, eventDone, "stream complete")
				flush()
				return
			}
			if err := writeSSESnapshot(w, next); err != nil {
				return // Client gone.
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSESnapshot(w http.ResponseWriter, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, eventStatus, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
// data must be a single line.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
