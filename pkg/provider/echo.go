package provider

import (
	"context"
	"strings"

	"github.com/pario-ai/relay/pkg/models"
)

// Echo answers with the prompt itself. Token counts are whitespace-separated
// words. It is meant for local testing.
type Echo struct{}

// Invoke implements registry.Invoker.
func (Echo) Invoke(ctx context.Context, prompt string, _ models.Params) (models.Response, error) {
	if err := ctx.Err(); err != nil {
		return models.Response{}, err
	}
	n := len(strings.Fields(prompt))
	return models.Response{Text: prompt, TokensIn: n, TokensOut: n}, nil
}
