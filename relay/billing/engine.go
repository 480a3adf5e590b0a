// Package billing implements the Billing Engine (§4.10): tiered per-GlobalModel pricing resolved
// against observed token dimensions, scaled by a Key's rate_multiplier into the actual_* figures
// persisted for audit alongside the settled Usage row.
package billing

import (
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/billing/ratio"
)

// Dimensions is the set of observed usage figures the Stream Tracker (or a non-streaming
// response) hands to the Billing Engine once a request completes.
type Dimensions struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	RequestCount        int64
	// CacheTTLClass is the cache_control.ttl value ("", "5m", "1h") used to resolve an optional
	// per-tier cache_ttl_pricing override.
	CacheTTLClass string
}

// BillingSnapshot is the §4.10 audit record persisted with the Usage row: the per-component
// breakdown, the resolved pricing variables, the surface (billable) total, the rate-scaled
// actual total, and the multiplier/free-tier flag that produced it.
type BillingSnapshot struct {
	Breakdown         map[string]float64 `json:"breakdown"`
	ResolvedVariables map[string]float64 `json:"resolved_variables"`
	TotalCost         float64            `json:"total_cost"`
	ActualTotalCost   float64            `json:"actual_total_cost"`
	RateMultiplier    float64            `json:"rate_multiplier"`
	IsFreeTier        bool               `json:"is_free_tier"`
}

// Engine evaluates the fixed §4.10 pricing expression. It has no state of its own; every call is
// a pure function of its arguments so replay (re-deriving total_cost from resolved_variables plus
// breakdown) reproduces the original snapshot exactly.
type Engine struct{}

// New constructs a Billing Engine. There is currently nothing to configure: pricing lives on
// GlobalModel/Key rows, not on the engine.
func New() *Engine { return &Engine{} }

// Evaluate resolves the tier whose boundary covers total_input_context = input_tokens +
// cache_read_tokens, derives any unset cache prices, computes the fixed cost expression, and
// scales it by the key's rate_multiplier (zeroing actual_total_cost when the key is free-tier).
// modelNameFallback is consulted only when tiers is empty or degenerate (e.g. a GlobalModel row
// failed to load), so billing never hard-fails a settled request for a catalog gap.
func (e *Engine) Evaluate(tiers []model.PricingTier, dims Dimensions, key *model.Key, modelNameFallback string) BillingSnapshot {
	tier := e.resolveTier(tiers, dims)

	inputPrice := tier.InputPricePerMillion
	outputPrice := tier.OutputPricePerMillion
	if inputPrice == 0 && outputPrice == 0 {
		// Degenerate/unconfigured GlobalModel: fall back to the legacy ratio table rather than
		// bill the request at zero.
		inputPrice = ratio.GetModelRatio(modelNameFallback, 0) * 1_000_000
		outputPrice = inputPrice * ratio.GetCompletionRatio(modelNameFallback, 0)
	}
	cacheCreationPrice, cacheReadPrice := tier.ResolvedCachePrices(dims.CacheTTLClass)

	inputCost := float64(dims.InputTokens) * inputPrice / 1_000_000
	outputCost := float64(dims.OutputTokens) * outputPrice / 1_000_000
	cacheCreationCost := float64(dims.CacheCreationTokens) * cacheCreationPrice / 1_000_000
	cacheReadCost := float64(dims.CacheReadTokens) * cacheReadPrice / 1_000_000
	requestCost := float64(dims.RequestCount) * tier.RequestPrice

	total := inputCost + outputCost + cacheCreationCost + cacheReadCost + requestCost

	multiplier := 1.0
	isFreeTier := false
	if key != nil {
		multiplier = key.EffectiveRateMultiplier()
		isFreeTier = key.IsFreeTier
	}
	actualTotal := total * multiplier
	if isFreeTier {
		actualTotal = 0
	}

	return BillingSnapshot{
		Breakdown: map[string]float64{
			"input_cost":          inputCost,
			"output_cost":         outputCost,
			"cache_creation_cost": cacheCreationCost,
			"cache_read_cost":     cacheReadCost,
			"request_cost":        requestCost,
		},
		ResolvedVariables: map[string]float64{
			"input_tokens":                 float64(dims.InputTokens),
			"output_tokens":                float64(dims.OutputTokens),
			"cache_creation_tokens":        float64(dims.CacheCreationTokens),
			"cache_read_tokens":            float64(dims.CacheReadTokens),
			"request_count":                float64(dims.RequestCount),
			"input_price_per_1m":           inputPrice,
			"output_price_per_1m":          outputPrice,
			"cache_creation_price_per_1m":  cacheCreationPrice,
			"cache_read_price_per_1m":      cacheReadPrice,
			"price_per_request":            tier.RequestPrice,
		},
		TotalCost:       total,
		ActualTotalCost: actualTotal,
		RateMultiplier:  multiplier,
		IsFreeTier:      isFreeTier,
	}
}

// resolveTier picks the §4.10 tier by total_input_context = input_tokens + cache_read_tokens.
func (e *Engine) resolveTier(tiers []model.PricingTier, dims Dimensions) model.PricingTier {
	if len(tiers) == 0 {
		return model.PricingTier{}
	}
	totalInputContext := dims.InputTokens + dims.CacheReadTokens
	return model.TierFor(tiers, totalInputContext)
}

// Replay recomputes total_cost from a previously persisted breakdown, for the audit invariant
// that replaying snapshot.breakdown reproduces snapshot.total_cost to within 1e-9.
func Replay(breakdown map[string]float64) float64 {
	return breakdown["input_cost"] + breakdown["output_cost"] + breakdown["cache_creation_cost"] +
		breakdown["cache_read_cost"] + breakdown["request_cost"]
}
