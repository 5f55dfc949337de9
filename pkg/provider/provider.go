// Package provider builds registry invokers for upstream LLM HTTP APIs.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
)

// New builds the invoker and registry metadata for a configured model.
func New(cfg config.ModelConfig) (registry.Invoker, registry.Metadata, error) {
	if cfg.Name == "" {
		return nil, registry.Metadata{}, errors.New("model name is required")
	}
	typ := cfg.Type
	if typ == "" {
		typ = config.TypeOpenAI
	}
	upstream := cfg.UpstreamModel
	if upstream == "" {
		upstream = cfg.Name
	}

	md := registry.Metadata{
		Provider:      typ,
		UpstreamModel: upstream,
		Labels:        cfg.Labels,
	}
	if cfg.Pricing != nil {
		p := *cfg.Pricing
		p.Model = cfg.Name
		md.Pricing = &p
	}

	switch typ {
	case config.TypeOpenAI:
		return newOpenAI(cfg, upstream), md, nil
	case config.TypeAnthropic:
		return newAnthropic(cfg, upstream), md, nil
	case config.TypeEcho:
		md.UpstreamModel = ""
		return Echo{}, md, nil
	default:
		return nil, registry.Metadata{}, fmt.Errorf("model %s: unknown provider type %q", cfg.Name, typ)
	}
}

// newClient returns a resty client without its own retries; the
// orchestrator owns retry policy.
func newClient(cfg config.ModelConfig) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}

	name := cfg.Name
	c.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("model", name).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("upstream response")
		return nil
	})
	return c
}

// transportError wraps a failure to get any HTTP response.
func transportError(model string, err error) error {
	return &registry.InvocationError{Model: model, Err: fmt.Errorf("request failed: %w", err)}
}

// statusError classifies an HTTP error response. 408, 429 and 5xx are
// retryable; other 4xx are permanent.
func statusError(model string, status int, body *models.ErrorBody) error {
	msg := ""
	if body != nil {
		msg = body.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	permanent := status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
	return &registry.InvocationError{
		Model:      model,
		StatusCode: status,
		Permanent:  permanent,
		Err:        errors.New(msg),
	}
}

func messages(prompt string) []models.ChatMessage {
	return []models.ChatMessage{{Role: "user", Content: prompt}}
}

func floatParam(p models.Params, key string) (*float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("param %s: expected number, got %T", key, v)
	}
	return &f, nil
}

func intParam(p models.Params, key string) (*int, error) {
	f, err := floatParam(p, key)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != float64(int(*f)) || *f < 1 {
		return nil, fmt.Errorf("param %s: expected positive integer, got %v", key, *f)
	}
	n := int(*f)
	return &n, nil
}

func stringParam(p models.Params, key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %s: expected string, got %T", key, v)
	}
	return s, nil
}

// badParams reports invalid invocation params; retrying cannot fix them.
func badParams(model string, err error) error {
	return &registry.InvocationError{Model: model, Permanent: true, Err: err}
}
