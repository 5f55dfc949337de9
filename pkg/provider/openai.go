package provider

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
)

// OpenAI invokes an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAI struct {
	name     string
	upstream string
	http     *resty.Client
}

func newOpenAI(cfg config.ModelConfig, upstream string) *OpenAI {
	c := newClient(cfg)
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &OpenAI{name: cfg.Name, upstream: upstream, http: c}
}

// Invoke implements registry.Invoker. Supported params: temperature,
// max_tokens, system.
func (o *OpenAI) Invoke(ctx context.Context, prompt string, params models.Params) (models.Response, error) {
	body, err := o.request(prompt, params)
	if err != nil {
		return models.Response{}, badParams(o.name, err)
	}

	var (
		out     models.ChatCompletionResponse
		errBody models.ErrorBody
	)
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errBody).
		Post("/v1/chat/completions")
	if err != nil {
		return models.Response{}, transportError(o.name, err)
	}
	if resp.IsError() {
		return models.Response{}, statusError(o.name, resp.StatusCode(), &errBody)
	}
	if len(out.Choices) == 0 {
		return models.Response{}, &registry.InvocationError{Model: o.name, StatusCode: resp.StatusCode(), Err: errors.New("response has no choices")}
	}

	r := models.Response{Text: out.Choices[0].Message.Content}
	if out.Usage != nil {
		r.TokensIn = out.Usage.PromptTokens
		r.TokensOut = out.Usage.CompletionTokens
	}
	return r, nil
}

func (o *OpenAI) request(prompt string, params models.Params) (models.ChatCompletionRequest, error) {
	req := models.ChatCompletionRequest{Model: o.upstream}

	system, err := stringParam(params, "system")
	if err != nil {
		return req, err
	}
	if system != "" {
		req.Messages = append(req.Messages, models.ChatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, messages(prompt)...)

	if req.Temperature, err = floatParam(params, "temperature"); err != nil {
		return req, err
	}
	if req.MaxTokens, err = intParam(params, "max_tokens"); err != nil {
		return req, err
	}
	return req, nil
}
