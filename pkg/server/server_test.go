package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/relay/pkg/backoff"
	"github.com/pario-ai/relay/pkg/breaker"
	"github.com/pario-ai/relay/pkg/events"
	"github.com/pario-ai/relay/pkg/metrics"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/orchestrator"
	"github.com/pario-ai/relay/pkg/registry"
)

func echo(prefix string) registry.InvokerFunc {
	return func(_ context.Context, prompt string, _ models.Params) (models.Response, error) {
		return models.Response{Text: prefix + prompt, TokensIn: 1, TokensOut: 1}, nil
	}
}

func broken() registry.InvokerFunc {
	return func(context.Context, string, models.Params) (models.Response, error) {
		return models.Response{}, errors.New("down")
	}
}

func hanging() registry.InvokerFunc {
	return func(ctx context.Context, _ string, _ models.Params) (models.Response, error) {
		<-ctx.Done()
		return models.Response{}, ctx.Err()
	}
}

func setup(t *testing.T, opts ...Option) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	o := orchestrator.New(orchestrator.Config{
		Breaker: breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute},
		Retry:   backoff.Policy{Base: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond, MaxAttempts: 2},
	})
	require.NoError(t, o.Register("a", echo("a:")))
	require.NoError(t, o.Register("b", echo("b:")))
	require.NoError(t, o.Register("down", broken()))
	require.NoError(t, o.Register("slow", hanging()))
	return New(":0", o, opts...), o
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGenerate(t *testing.T) {
	s, o := setup(t)
	require.NoError(t, o.SetFallbackChain([]string{"down", "a"}))

	rec := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[GenerateResponse](t, rec)
	assert.Equal(t, "a", resp.Model)
	assert.Equal(t, "a:hi", resp.Text)
	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "down", resp.Failures[0].Model)
	assert.Equal(t, models.ReasonRetriesExhausted, resp.Failures[0].Reason)
	assert.NotEmpty(t, resp.Failures[0].Message)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		typ  string
	}{
		{"bad json", `{"prompt":`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"prompt":"hi","nope":1}`, http.StatusBadRequest, "invalid_request"},
		{"empty prompt", `{"prompt":""}`, http.StatusBadRequest, "invalid_request"},
		{"unknown model", `{"prompt":"hi","model":"ghost"}`, http.StatusNotFound, "unknown_model"},
		{"nothing to try", `{"prompt":"hi"}`, http.StatusConflict, "configuration_error"},
		{"all failed", `{"prompt":"hi","model":"down"}`, http.StatusBadGateway, "all_models_failed"},
		{"deadline", `{"prompt":"hi","model":"slow","timeout_ms":20}`, http.StatusGatewayTimeout, "deadline_exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setup(t)
			rec := do(t, s, http.MethodPost, "/v1/generate", tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.typ, body.Error.Type)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestGenerate_AllFailedCarriesTrail(t *testing.T) {
	s, o := setup(t)
	require.NoError(t, o.SetFallbackChain([]string{"down"}))

	rec := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "down", body.Failures[0].Model)

	// The breaker tripped on that call; the next one short-circuits.
	rec = do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)
	body = decodeBody[ErrorResponse](t, rec)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, models.ReasonCircuitOpen, body.Failures[0].Reason)
}

func TestModelsAndRouting(t *testing.T) {
	s, _ := setup(t)

	rec := do(t, s, http.MethodPut, "/v1/active", `{"model":"b"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodPut, "/v1/active", `{"model":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPut, "/v1/fallback-chain", `{"models":["a","b"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodPut, "/v1/fallback-chain", `{"models":["a","ghost"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/fallback-chain", "")
	assert.Equal(t, []string{"a", "b"}, decodeBody[chainBody](t, rec).Models)

	rec = do(t, s, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
		Active        string   `json:"active"`
		FallbackChain []string `json:"fallback_chain"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Models, 4)
	assert.Equal(t, "a", listed.Models[0].Name)
	assert.Equal(t, "b", listed.Active)
	assert.Equal(t, []string{"a", "b"}, listed.FallbackChain)
}

func TestPerformanceAndCircuits(t *testing.T) {
	s, _ := setup(t)
	do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi","model":"a"}`)
	do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi","model":"down"}`)

	rec := do(t, s, http.MethodGet, "/v1/performance?model=a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	perf := decodeBody[models.PerformanceRecord](t, rec)
	assert.EqualValues(t, 1, perf.Calls)

	rec = do(t, s, http.MethodGet, "/v1/performance", "")
	all := decodeBody[map[string]models.PerformanceRecord](t, rec)
	assert.Len(t, all, 4)
	assert.EqualValues(t, 1, all["down"].Failures)

	rec = do(t, s, http.MethodGet, "/v1/performance?model=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/circuits", "")
	circuits := decodeBody[[]models.BreakerSnapshot](t, rec)
	require.Len(t, circuits, 4)
	states := map[string]string{}
	for _, c := range circuits {
		states[c.Model] = c.State
	}
	assert.Equal(t, "open", states["down"])
	assert.Equal(t, "closed", states["a"])

	rec = do(t, s, http.MethodPost, "/v1/circuits/down/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decodeBody[models.BreakerSnapshot](t, rec).State)

	rec = do(t, s, http.MethodPost, "/v1/circuits/ghost/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "relay")
	o := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.WithCollector(events.Multi{m}))
	require.NoError(t, o.Register("a", echo("")))
	s := New(":0", o, WithMetrics("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"hi","model":"a"}`)
	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relay_calls_total{model="a",outcome="success"} 1`)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := setup(t)
	s.listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
