package models

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k"`
}

// Estimate returns the cost of a call with the given token counts.
func (p ModelPricing) Estimate(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*p.PromptCost + float64(tokensOut)/1000*p.CompletionCost
}
