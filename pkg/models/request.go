package models

import "time"

// Params holds backend invocation parameters such as temperature or max_tokens.
type Params map[string]any

// Request is a single generate call as seen by the orchestrator.
type Request struct {
	Prompt string `json:"prompt"`
	Params Params `json:"params,omitempty"`
	// Model pins the call to one registered model. Empty means use the
	// fallback chain, or the active model when no chain is configured.
	Model string `json:"model,omitempty"`
}

// Response is what a backend returns for one successful invocation.
type Response struct {
	Text      string   `json:"text"`
	TokensIn  int      `json:"tokens_in,omitempty"`
	TokensOut int      `json:"tokens_out,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
}

// Result is the caller-visible outcome of a successful generate call.
type Result struct {
	RequestID string             `json:"request_id"`
	Model     string             `json:"model"`
	Response  Response           `json:"response"`
	Cached    bool               `json:"cached"`
	Attempts  int                `json:"attempts"`
	Latency   time.Duration      `json:"latency"`
	Failures  []CandidateFailure `json:"failures,omitempty"`
}

// FailureReason classifies why a candidate model was skipped.
type FailureReason string

const (
	ReasonCircuitOpen      FailureReason = "circuit_open"
	ReasonRetriesExhausted FailureReason = "retries_exhausted"
	ReasonPermanent        FailureReason = "permanent_error"
	ReasonDeadline         FailureReason = "deadline_exceeded"
)

// CandidateFailure records one skipped candidate in a fallback traversal.
type CandidateFailure struct {
	Model    string        `json:"model"`
	Reason   FailureReason `json:"reason"`
	Attempts int           `json:"attempts"`
	Err      error         `json:"-"`
	Message  string        `json:"error"`
}
