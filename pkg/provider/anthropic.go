package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

// Anthropic invokes the Anthropic /v1/messages endpoint.
type Anthropic struct {
	name     string
	upstream string
	http     *resty.Client
}

func newAnthropic(cfg config.ModelConfig, upstream string) *Anthropic {
	c := newClient(cfg).SetHeader("anthropic-version", anthropicVersion)
	if cfg.APIKey != "" {
		c.SetHeader("x-api-key", cfg.APIKey)
	}
	return &Anthropic{name: cfg.Name, upstream: upstream, http: c}
}

// Invoke implements registry.Invoker. Supported params: temperature,
// max_tokens (default 1024), system.
func (a *Anthropic) Invoke(ctx context.Context, prompt string, params models.Params) (models.Response, error) {
	body, err := a.request(prompt, params)
	if err != nil {
		return models.Response{}, badParams(a.name, err)
	}

	var (
		out     models.AnthropicResponse
		errBody models.ErrorBody
	)
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errBody).
		Post("/v1/messages")
	if err != nil {
		return models.Response{}, transportError(a.name, err)
	}
	if resp.IsError() {
		return models.Response{}, statusError(a.name, resp.StatusCode(), &errBody)
	}

	if len(out.Content) == 0 {
		return models.Response{}, &registry.InvocationError{Model: a.name, StatusCode: resp.StatusCode(), Err: errors.New("response has no content")}
	}
	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}

	r := models.Response{Text: sb.String()}
	if out.Usage != nil {
		r.TokensIn = out.Usage.InputTokens
		r.TokensOut = out.Usage.OutputTokens
	}
	return r, nil
}

func (a *Anthropic) request(prompt string, params models.Params) (models.AnthropicRequest, error) {
	req := models.AnthropicRequest{
		Model:     a.upstream,
		Messages:  messages(prompt),
		MaxTokens: anthropicMaxTokens,
	}

	var err error
	if req.System, err = stringParam(params, "system"); err != nil {
		return req, err
	}
	if req.Temperature, err = floatParam(params, "temperature"); err != nil {
		return req, err
	}
	maxTokens, err := intParam(params, "max_tokens")
	if err != nil {
		return req, err
	}
	if maxTokens != nil {
		req.MaxTokens = *maxTokens
	}
	return req, nil
}
