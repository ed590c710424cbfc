package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/simdispatch/internal/events"
)

const defaultKeepAlive = 15 * time.Second

// feedFilter selects events from the hub for one request.
type feedFilter struct {
	since int64
	job   string
	types map[string]bool
}

// parseFeedFilter reads ?since=N, ?job=ID and ?type=T (repeatable or
// comma-separated).
func parseFeedFilter(r *http.Request) (feedFilter, error) {
	q := r.URL.Query()
	f := feedFilter{job: q.Get("job")}

	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return feedFilter{}, fmt.Errorf("since must be a non-negative integer")
		}
		f.since = n
	}
	for _, v := range q["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			if f.types == nil {
				f.types = make(map[string]bool)
			}
			f.types[t] = true
		}
	}
	return f, nil
}

func (f feedFilter) match(ev events.Event) bool {
	if ev.ID <= f.since {
		return false
	}
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	if f.job == "" {
		return true
	}
	var payload struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return false
	}
	return payload.JobID == f.job
}

func (f feedFilter) apply(evs []events.Event) []events.Event {
	out := make([]events.Event, 0, len(evs))
	for _, ev := range evs {
		if f.match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// handleEvents handles GET /events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFeedFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: f.apply(s.events.SnapshotSince(f.since))})
}

// handleEventStream handles GET /events/stream. It takes the same filters as
// /events; a reconnecting client's Last-Event-ID wins over ?since when later.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	f, err := parseFeedFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64); err == nil && id > f.since {
		f.since = id
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range f.apply(s.events.SnapshotSince(f.since)) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		f.since = ev.ID
	}
	flusher.Flush()

	every := s.config.KeepAlive
	if every <= 0 {
		every = defaultKeepAlive
	}
	idle := time.NewTicker(every)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			// Already replayed, or filtered out.
			if !f.match(ev) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			f.since = ev.ID
			flusher.Flush()
		case <-idle.C:
			if _, err := fmt.Fprint(w, ": idle\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE frames one event. Data is single-line JSON.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
