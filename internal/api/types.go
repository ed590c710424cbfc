package api

import (
	"github.com/mattjoyce/simdispatch/internal/events"
	"github.com/mattjoyce/simdispatch/internal/supervisor"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string               `json:"status"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	IntervalMS    int64                `json:"interval_ms"`
	Workers       int                  `json:"workers"`
	LastCycle     *events.CycleSummary `json:"last_cycle,omitempty"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	Count int               `json:"count"`
	Jobs  []supervisor.Info `json:"jobs"`
}

// EventsResponse is returned by GET /events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
