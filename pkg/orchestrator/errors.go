package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrRetriesExhausted matches every *RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrAllModelsFailed matches every *AllModelsFailedError.
	ErrAllModelsFailed = errors.New("all models failed")

	// ErrDeadlineExceeded matches every *DeadlineExceededError.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// ConfigurationError reports a fallback chain or default-model problem.
type ConfigurationError struct {
	// Model is the unregistered model name, if that is the cause.
	Model string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Msg, e.Model)
	}
	return "configuration error: " + e.Msg
}

// Is lets errors.Is match ErrConfiguration, and ErrUnknownModel when a
// model name is the cause.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration || (e.Model != "" && target == registry.ErrUnknownModel)
}

// RetriesExhaustedError means every attempt against one model failed.
type RetriesExhaustedError struct {
	Model    string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempt(s) failed: %v", e.Model, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// Is lets errors.Is(err, ErrRetriesExhausted) match.
func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// AllModelsFailedError is the terminal failure of a generate call. Failures
// lists every candidate in the order it was tried.
type AllModelsFailedError struct {
	Failures []models.CandidateFailure
}

func (e *AllModelsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Model, f.Reason))
	}
	return "all models failed: " + strings.Join(parts, ", ")
}

// Is lets errors.Is(err, ErrAllModelsFailed) match.
func (e *AllModelsFailedError) Is(target error) bool { return target == ErrAllModelsFailed }

// Unwrap exposes each candidate's error to errors.Is and errors.As.
func (e *AllModelsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Models returns the failed candidates in order.
func (e *AllModelsFailedError) Models() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Model
	}
	return out
}

// AllCircuitsOpen reports whether every candidate was short-circuited.
func (e *AllModelsFailedError) AllCircuitsOpen() bool {
	return e.all(models.ReasonCircuitOpen)
}

// AllExhausted reports whether every candidate was tried and ran out of attempts.
func (e *AllModelsFailedError) AllExhausted() bool {
	return e.all(models.ReasonRetriesExhausted)
}

func (e *AllModelsFailedError) all(r models.FailureReason) bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if f.Reason != r {
			return false
		}
	}
	return true
}

// DeadlineExceededError means the caller's context ended mid-call, during an
// invocation or a backoff sleep.
type DeadlineExceededError struct {
	Model    string
	Attempt  int
	Err      error
	Failures []models.CandidateFailure
}

func (e *DeadlineExceededError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("deadline exceeded before trying next model: %v", e.Err)
	}
	return fmt.Sprintf("deadline exceeded calling %s (attempt %d): %v", e.Model, e.Attempt, e.Err)
}

// Unwrap returns the context error.
func (e *DeadlineExceededError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDeadlineExceeded) match.
func (e *DeadlineExceededError) Is(target error) bool { return target == ErrDeadlineExceeded }

func failure(model string, reason models.FailureReason, attempts int, err error) models.CandidateFailure {
	return models.CandidateFailure{
		Model:    model,
		Reason:   reason,
		Attempts: attempts,
		Err:      err,
		Message:  err.Error(),
	}
}
