// Package httpapi serves backtest runs over HTTP as JSON documents or CSV
// downloads.
package httpapi

import (
	"breakout/internal/backtest"
)

// VariantJSON describes one backtest variant and its parameter defaults.
type VariantJSON struct {
	Name             string          `json:"name"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Policy           string          `json:"policy"`
	VolatilityFilter bool            `json:"volatility_filter"`
	Defaults         backtest.Params `json:"defaults"`
	FileName         string          `json:"file_name"`
}

// VariantsResponse is the body of GET /api/variants.
type VariantsResponse struct {
	Variants []VariantJSON `json:"variants"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome"`
	Field   string `json:"field,omitempty"` // set for invalid parameters
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider,omitempty"` // circuit breaker state
	Version  string `json:"version,omitempty"`
}

func variantToJSON(v backtest.Variant) VariantJSON {
	return VariantJSON{
		Name:             v.Name,
		Title:            v.Title,
		Description:      v.Description,
		Policy:           v.PolicyName,
		VolatilityFilter: v.VolatilityFilter,
		Defaults:         v.Defaults,
		FileName:         v.FileName(v.Defaults.Ticker),
	}
}
