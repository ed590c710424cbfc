package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/simdispatch/internal/supervisor"
)

// stallFactor is how many intervals may pass without a completed cycle before
// /healthz reports the loop as stalled.
const stallFactor = 3

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		IntervalMS:    s.config.Interval.Milliseconds(),
		Workers:       len(s.source.Workers()),
	}

	code := http.StatusOK
	if last, ok := s.source.LastCycle(); ok {
		resp.LastCycle = &last
		if last.Error != "" {
			resp.Status = "degraded"
		}
		if s.config.Interval > 0 && s.now().Sub(last.StartedAt) > stallFactor*s.config.Interval {
			resp.Status = "stalled"
			code = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, code, resp)
}

// handleJobs handles GET /jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.source.Workers()
	if jobs == nil {
		jobs = []supervisor.Info{}
	}
	respondJSON(w, http.StatusOK, JobsResponse{Count: len(jobs), Jobs: jobs})
}

// handleJob handles GET /jobs/{jobID}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	for _, info := range s.source.Workers() {
		if info.JobID == jobID {
			respondJSON(w, http.StatusOK, info)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "job not supervised")
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
