package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentrt/core/internal/status"
)

type pricingRequest struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CachedTokens int    `json:"cached_tokens"`
}

// handleConfigPricing implements POST /config/pricing: resolve a
// provider/model's per-token cost table and, when usage figures are
// supplied, the estimated cost for that usage — the HTTP-facing view of
// internal/status's cost estimator, which the terminal surface already
// uses to annotate session summaries.
func (s *Server) handleConfigPricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "provider and model are required")
		return
	}

	cost := status.ResolveModelCostConfig(req.Provider, req.Model, nil)
	if cost == nil {
		writeJSON(w, map[string]any{"provider": req.Provider, "model": req.Model, "known": false})
		return
	}

	resp := map[string]any{
		"provider":            req.Provider,
		"model":               req.Model,
		"known":               true,
		"input_per_1m":        cost.InputPer1M,
		"output_per_1m":       cost.OutputPer1M,
		"cached_input_per_1m": cost.CachedInputPer1M,
	}
	if req.InputTokens > 0 || req.OutputTokens > 0 || req.CachedTokens > 0 {
		summary := status.ComputeCostSummary(req.InputTokens, req.OutputTokens, req.CachedTokens, cost)
		resp["estimate"] = map[string]any{
			"total_usd":  summary.TotalCost,
			"input_usd":  summary.InputCost,
			"output_usd": summary.OutputCost,
			"cached_usd": summary.CachedCost,
		}
	}
	writeJSON(w, resp)
}
