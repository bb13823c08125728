package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// EventsHandler streams snapshots and attendance events over SSE.
type EventsHandler struct {
	broadcaster *events.Broadcaster
	state       *recognition.State
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(broadcaster *events.Broadcaster, state *recognition.State) *EventsHandler {
	if state == nil {
		state = recognition.NewState(nil)
	}
	return &EventsHandler{broadcaster: broadcaster, state: state}
}

// Stream sends the latest snapshot as a "status" event, then every broadcast
// event until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := h.broadcaster.AddListener()
	defer h.broadcaster.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", h.state.Latest())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, string(event.Type), event)
		}
	}
}
