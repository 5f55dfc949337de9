// Package server exposes the orchestrator over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/orchestrator"
	"github.com/pario-ai/relay/pkg/registry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server is the relay HTTP API.
type Server struct {
	listen string
	orch   *orchestrator.Orchestrator
	logger zerolog.Logger
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics serves h (typically promhttp.Handler) at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("GET "+path, h) }
}

// New creates a Server for o listening on listen.
func New(listen string, o *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		listen: listen,
		orch:   o,
		logger: log.Logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("PUT /v1/active", s.handleSetActive)
	s.mux.HandleFunc("GET /v1/fallback-chain", s.handleGetChain)
	s.mux.HandleFunc("PUT /v1/fallback-chain", s.handleSetChain)
	s.mux.HandleFunc("GET /v1/performance", s.handlePerformance)
	s.mux.HandleFunc("GET /v1/circuits", s.handleCircuits)
	s.mux.HandleFunc("POST /v1/circuits/{model}/reset", s.handleResetCircuit)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.listen).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// GenerateRequest is the POST /v1/generate body.
type GenerateRequest struct {
	Prompt    string        `json:"prompt"`
	Params    models.Params `json:"params,omitempty"`
	Model     string        `json:"model,omitempty"`
	TimeoutMs int64         `json:"timeout_ms,omitempty"`
}

// GenerateResponse is the POST /v1/generate success body.
type GenerateResponse struct {
	RequestID string                    `json:"request_id"`
	Model     string                    `json:"model"`
	Text      string                    `json:"text"`
	TokensIn  int                       `json:"tokens_in"`
	TokensOut int                       `json:"tokens_out"`
	Cost      *float64                  `json:"cost,omitempty"`
	Cached    bool                      `json:"cached"`
	Attempts  int                       `json:"attempts"`
	LatencyMs int64                     `json:"latency_ms"`
	Failures  []models.CandidateFailure `json:"failures,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    ErrorDetail               `json:"error"`
	Failures []models.CandidateFailure `json:"failures,omitempty"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "timeout_ms must not be negative")
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	res, err := s.orch.Generate(ctx, models.Request{Prompt: req.Prompt, Params: req.Params, Model: req.Model})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		RequestID: res.RequestID,
		Model:     res.Model,
		Text:      res.Response.Text,
		TokensIn:  res.Response.TokensIn,
		TokensOut: res.Response.TokensOut,
		Cost:      res.Response.Cost,
		Cached:    res.Cached,
		Attempts:  res.Attempts,
		LatencyMs: res.Latency.Milliseconds(),
		Failures:  res.Failures,
	})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	var (
		all *orchestrator.AllModelsFailedError
		dl  *orchestrator.DeadlineExceededError
	)
	switch {
	case errors.Is(err, orchestrator.ErrConfiguration):
		writeError(w, http.StatusConflict, "configuration_error", err.Error())
	case errors.Is(err, registry.ErrUnknownModel):
		writeError(w, http.StatusNotFound, "unknown_model", err.Error())
	case errors.As(err, &dl):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{
			Error:    ErrorDetail{Message: err.Error(), Type: "deadline_exceeded", Code: http.StatusGatewayTimeout},
			Failures: dl.Failures,
		})
	case errors.As(err, &all):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:    ErrorDetail{Message: err.Error(), Type: "all_models_failed", Code: http.StatusBadGateway},
			Failures: all.Failures,
		})
	default:
		s.logger.Error().Err(err).Msg("generate failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

type modelsResponse struct {
	Models        []registry.Entry `json:"models"`
	Active        string           `json:"active,omitempty"`
	FallbackChain []string         `json:"fallback_chain"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	active, _ := s.orch.Active()
	writeJSON(w, http.StatusOK, modelsResponse{
		Models:        s.orch.Models(),
		Active:        active,
		FallbackChain: s.orch.FallbackChain(),
	})
}

type activeRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.orch.SetActive(req.Model); err != nil {
		writeError(w, http.StatusNotFound, "unknown_model", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chainBody struct {
	Models []string `json:"models"`
}

func (s *Server) handleGetChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chainBody{Models: s.orch.FallbackChain()})
}

func (s *Server) handleSetChain(w http.ResponseWriter, r *http.Request) {
	var req chainBody
	if !decode(w, r, &req) {
		return
	}
	if err := s.orch.SetFallbackChain(req.Models); err != nil {
		writeError(w, http.StatusConflict, "configuration_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if model := r.URL.Query().Get("model"); model != "" {
		rec, err := s.orch.PerformanceSnapshot(model)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_model", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.PerformanceSnapshots())
}

func (s *Server) handleCircuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.CircuitSnapshots())
}

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if err := s.orch.ResetCircuit(model); err != nil {
		writeError(w, http.StatusNotFound, "unknown_model", err.Error())
		return
	}
	snap, err := s.orch.CircuitSnapshot(model)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_model", err.Error())
		return
	}
	s.logger.Info().Str("model", model).Msg("circuit reset")
	writeJSON(w, http.StatusOK, snap)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, typ, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Message: message, Type: typ, Code: code}})
}
