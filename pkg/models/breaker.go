package models

import "time"

// BreakerSnapshot is a point-in-time copy of one model's circuit breaker.
type BreakerSnapshot struct {
	Model               string    `json:"model"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	ProbeInFlight       bool      `json:"probe_in_flight"`
	ShortCircuits       int64     `json:"short_circuits"`
	LastTransition      time.Time `json:"last_transition,omitempty"`
}
