package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/service"
)

// StreamEvents handles GET /api/v1/events/stream, the Server-Sent-Events
// endpoint. The client cursor arrives in the Last-Event-ID header (set by the
// browser EventSource on reconnect) or the cursor query parameter; without
// one the stream replays from the beginning. aggregate_type and aggregate_id
// query parameters scope the subscription.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := parseStreamRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	if err := h.Streamer.Run(r.Context(), req, sink); err != nil {
		// The connection is gone or broken; nothing to send to the client.
		return
	}
}

func parseStreamRequest(r *http.Request) (service.StreamRequest, error) {
	req := service.StreamRequest{Pattern: eventbus.PatternAll()}

	if aggType := r.URL.Query().Get("aggregate_type"); aggType != "" {
		if aggID := r.URL.Query().Get("aggregate_id"); aggID != "" {
			req.Pattern = eventbus.PatternInstance(aggType, aggID)
		} else {
			req.Pattern = eventbus.PatternType(aggType)
		}
	}

	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("cursor")
	}
	if raw != "" {
		cursor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return req, fmt.Errorf("cursor must be a non-negative integer")
		}
		req.Cursor = cursor
		req.Resume = true
	}

	return req, nil
}

// sseSink writes stream frames in SSE wire format. Sessions are single
// goroutine, so no locking is needed.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(frame service.Frame) error {
	if frame.Comment != "" {
		if _, err := fmt.Fprintf(s.w, ": %s\n\n", frame.Comment); err != nil {
			return err
		}
		s.flusher.Flush()
		return nil
	}

	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", frame.ID, frame.Event, frame.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
