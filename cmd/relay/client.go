package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/server"
)

// apiClient talks to a running relay server's admin endpoints.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(addr string) *apiClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &apiClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(addr, "/")).
			SetTimeout(10 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

func (c *apiClient) circuits(ctx context.Context) ([]models.BreakerSnapshot, error) {
	var out []models.BreakerSnapshot
	if err := c.get(ctx, "/v1/circuits", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) resetCircuit(ctx context.Context, model string) (models.BreakerSnapshot, error) {
	var (
		out     models.BreakerSnapshot
		errBody server.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Post("/v1/circuits/" + url.PathEscape(model) + "/reset")
	if err != nil {
		return out, fmt.Errorf("reset circuit: %w", err)
	}
	if resp.IsError() {
		return out, apiError(resp, &errBody)
	}
	return out, nil
}

func (c *apiClient) performance(ctx context.Context, model string) (map[string]models.PerformanceRecord, error) {
	if model != "" {
		var rec models.PerformanceRecord
		if err := c.get(ctx, "/v1/performance?model="+url.QueryEscape(model), &rec); err != nil {
			return nil, err
		}
		return map[string]models.PerformanceRecord{model: rec}, nil
	}
	var out map[string]models.PerformanceRecord
	if err := c.get(ctx, "/v1/performance", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) get(ctx context.Context, path string, result any) error {
	var errBody server.ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errBody).
		Get(path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsError() {
		return apiError(resp, &errBody)
	}
	return nil
}

func apiError(resp *resty.Response, body *server.ErrorResponse) error {
	if body.Error.Message != "" {
		return fmt.Errorf("relay server: %s (%d)", body.Error.Message, resp.StatusCode())
	}
	return fmt.Errorf("relay server: %s", resp.Status())
}
