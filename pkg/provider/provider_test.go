package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
)

func TestNew(t *testing.T) {
	inv, md, err := New(config.ModelConfig{
		Name:    "gpt",
		URL:     "http://localhost",
		Pricing: &models.ModelPricing{PromptCost: 1, CompletionCost: 2},
		Labels:  map[string]string{"tier": "fast"},
	})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, inv)
	assert.Equal(t, config.TypeOpenAI, md.Provider)
	assert.Equal(t, "gpt", md.UpstreamModel)
	require.NotNil(t, md.Pricing)
	assert.Equal(t, "gpt", md.Pricing.Model)
	assert.Equal(t, "fast", md.Labels["tier"])

	inv, md, err = New(config.ModelConfig{Name: "claude", Type: config.TypeAnthropic, URL: "http://localhost", UpstreamModel: "claude-sonnet"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, inv)
	assert.Equal(t, "claude-sonnet", md.UpstreamModel)

	inv, _, err = New(config.ModelConfig{Name: "local", Type: config.TypeEcho})
	require.NoError(t, err)
	assert.IsType(t, Echo{}, inv)

	_, _, err = New(config.ModelConfig{Name: "x", Type: "smtp"})
	assert.ErrorContains(t, err, "unknown provider type")

	_, _, err = New(config.ModelConfig{})
	assert.Error(t, err)
}

func TestOpenAI_Invoke(t *testing.T) {
	var got models.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: "hello"}}},
			Usage:   &models.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		})
	}))
	defer srv.Close()

	inv, _, err := New(config.ModelConfig{Name: "gpt", URL: srv.URL + "/", APIKey: "sk-test", UpstreamModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := inv.Invoke(context.Background(), "hi", models.Params{
		"temperature": 0.3,
		"max_tokens":  float64(64),
		"system":      "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 7, resp.TokensIn)
	assert.Equal(t, 3, resp.TokensOut)
	assert.Nil(t, resp.Cost)

	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 64, *got.MaxTokens)
}

func TestAnthropic_Invoke(t *testing.T) {
	var got models.AnthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.AnthropicResponse{
			Content: []models.AnthropicContent{{Type: "text", Text: "hel"}, {Type: "text", Text: "lo"}},
			Usage:   &models.AnthropicUsage{InputTokens: 4, OutputTokens: 2},
		})
	}))
	defer srv.Close()

	inv, _, err := New(config.ModelConfig{Name: "claude", Type: config.TypeAnthropic, URL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	resp, err := inv.Invoke(context.Background(), "hi", models.Params{"system": "terse"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 4, resp.TokensIn)
	assert.Equal(t, 2, resp.TokensOut)

	assert.Equal(t, "claude", got.Model)
	assert.Equal(t, "terse", got.System)
	assert.Equal(t, anthropicMaxTokens, got.MaxTokens)
}

func TestInvoke_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"type":"x","message":"upstream said no"}}`))
			}))
			defer srv.Close()

			inv, _, err := New(config.ModelConfig{Name: "gpt", URL: srv.URL})
			require.NoError(t, err)

			_, err = inv.Invoke(context.Background(), "hi", nil)
			var ie *registry.InvocationError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.status, ie.StatusCode)
			assert.Equal(t, tt.permanent, registry.IsPermanent(err))
			assert.Contains(t, err.Error(), "upstream said no")
		})
	}
}

func TestInvoke_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	inv, _, err := New(config.ModelConfig{Name: "gpt", URL: url})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "hi", nil)
	require.ErrorIs(t, err, registry.ErrInvocation)
	assert.False(t, registry.IsPermanent(err))
}

func TestInvoke_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	inv, _, err := New(config.ModelConfig{Name: "gpt", URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvoke_BadParamsArePermanent(t *testing.T) {
	inv, _, err := New(config.ModelConfig{Name: "gpt", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	for _, params := range []models.Params{
		{"temperature": "hot"},
		{"max_tokens": 1.5},
		{"system": 42},
	} {
		_, err := inv.Invoke(context.Background(), "hi", params)
		assert.True(t, registry.IsPermanent(err), "params %v", params)
	}
}

func TestEcho(t *testing.T) {
	resp, err := Echo{}.Invoke(context.Background(), "one two three", nil)
	require.NoError(t, err)
	assert.Equal(t, "one two three", resp.Text)
	assert.Equal(t, 3, resp.TokensIn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Echo{}.Invoke(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
