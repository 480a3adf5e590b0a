package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// KeyStatus is the lifecycle state of a Key as tracked by the Pool Manager's cooldown and
// circuit-breaker logic.
type KeyStatus int

const (
	KeyStatusEnabled KeyStatus = iota + 1
	KeyStatusDisabled
)

// Key is a credential bound to one Endpoint: the encrypted secret the Executor presents
// upstream, plus the quota/rate bookkeeping the Pool Manager uses to order candidates.
type Key struct {
	Id              int    `json:"id" gorm:"primaryKey"`
	EndpointId      int    `json:"endpoint_id" gorm:"index"`
	Name            string `json:"name" gorm:"size:128"`
	EncryptedSecret string `json:"-" gorm:"column:encrypted_secret;type:text"`
	Status          KeyStatus `json:"status" gorm:"default:1;index"`
	// Priority is the internal_priority the Scheduler orders keys by within a provider group.
	Priority int `json:"priority" gorm:"default:0"`
	// GlobalPriority orders keys across providers in global-key-first scheduling mode; a nil
	// value sorts last.
	GlobalPriority   *int           `json:"global_priority"`
	CostLimitTokens  int64          `json:"cost_limit_tokens"`
	CostWindowStart  time.Time      `json:"cost_window_start"`
	CostWindowTokens int64          `json:"cost_window_tokens"`
	// CooldownUntil is set by the Pool Manager after a failure; a Key is unschedulable while
	// the clock is before this time.
	CooldownUntil time.Time `json:"cooldown_until"`
	// RateMultiplier scales every actual_* billing figure this key produces (§4.10); 0 is
	// treated as 1 (unset) so existing rows default to the identity multiplier.
	RateMultiplier float64 `json:"rate_multiplier"`
	// IsFreeTier zeroes actual_total_cost on every request this key serves, regardless of
	// RateMultiplier or the resolved tier price.
	IsFreeTier bool `json:"is_free_tier"`
	// Capabilities is a comma-separated capability tag list (e.g. "vision,tools,video"); a Key
	// with no tags is assumed to support the baseline chat capability set only.
	Capabilities string         `json:"capabilities" gorm:"size:256"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// IsSchedulable reports whether the Pool Manager currently permits this key to be dispatched.
func (k *Key) IsSchedulable(now time.Time) bool {
	return k.Status == KeyStatusEnabled && !k.CooldownUntil.After(now)
}

// EffectiveRateMultiplier returns RateMultiplier, defaulting an unset (zero) value to 1 so the
// Billing Engine can multiply unconditionally.
func (k *Key) EffectiveRateMultiplier() float64 {
	if k.RateMultiplier <= 0 {
		return 1
	}
	return k.RateMultiplier
}

// HasCapabilities reports whether every tag in required is present on the key. A Key with an
// empty Capabilities list satisfies no required tag beyond an empty requirement.
func (k *Key) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, 4)
	for _, tag := range strings.Split(k.Capabilities, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			have[tag] = true
		}
	}
	for _, tag := range required {
		if !have[tag] {
			return false
		}
	}
	return true
}

// PricingTier is one row of a GlobalModel's tiered_pricing ladder (§4.10). UpTo is the inclusive
// cumulative-token-count boundary for this tier; a nil UpTo marks the final, unbounded tier.
// Prices are expressed per million tokens except RequestPrice, which is a flat per-request fee.
type PricingTier struct {
	UpTo                    *int64   `json:"up_to"`
	InputPricePerMillion    float64  `json:"input_price_per_million"`
	OutputPricePerMillion   float64  `json:"output_price_per_million"`
	// CacheCreationPricePerMillion defaults to InputPricePerMillion*1.25 when nil.
	CacheCreationPricePerMillion *float64 `json:"cache_creation_price_per_million,omitempty"`
	// CacheReadPricePerMillion defaults to InputPricePerMillion*0.1 when nil.
	CacheReadPricePerMillion *float64            `json:"cache_read_price_per_million,omitempty"`
	RequestPrice             float64             `json:"request_price"`
	CacheTTLPricing          []CacheTTLOverride `json:"cache_ttl_pricing,omitempty"`
}

// CacheTTLOverride replaces the derived cache creation price for one cache_control TTL class
// (e.g. "1h") within a pricing tier.
type CacheTTLOverride struct {
	TTL                          string  `json:"ttl"`
	CacheCreationPricePerMillion float64 `json:"cache_creation_price_per_million"`
}

// ResolvedCachePrices returns the effective cache creation and cache read prices for this tier,
// applying the §4.10 derivation formulas when no explicit override is configured, and then the
// per-TTL override (if any) on top of the creation price.
func (t PricingTier) ResolvedCachePrices(ttl string) (creation, read float64) {
	creation = t.InputPricePerMillion * 1.25
	if t.CacheCreationPricePerMillion != nil {
		creation = *t.CacheCreationPricePerMillion
	}
	read = t.InputPricePerMillion * 0.1
	if t.CacheReadPricePerMillion != nil {
		read = *t.CacheReadPricePerMillion
	}
	for _, o := range t.CacheTTLPricing {
		if o.TTL == ttl {
			creation = o.CacheCreationPricePerMillion
		}
	}
	return creation, read
}

// GlobalModel is the canonical model name catalog a tenant may request (e.g. "gpt-4o"),
// independent of which Provider ultimately serves it.
type GlobalModel struct {
	Id      int    `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"uniqueIndex;size:128"`
	Enabled bool   `json:"enabled" gorm:"default:true"`
	// TieredPricing is the JSON-encoded []PricingTier ladder (§4.10), ordered by ascending UpTo
	// with the final tier's UpTo nil. Stored as text so adding a tier never requires a migration.
	TieredPricing string    `json:"tiered_pricing" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
}

// LoadTiers decodes TieredPricing. An empty column yields a single unbounded zero-priced tier so
// callers never need a nil check before indexing.
func (m *GlobalModel) LoadTiers() ([]PricingTier, error) {
	if strings.TrimSpace(m.TieredPricing) == "" {
		return []PricingTier{{}}, nil
	}
	var tiers []PricingTier
	if err := json.Unmarshal([]byte(m.TieredPricing), &tiers); err != nil {
		return nil, errors.Wrapf(err, "decode tiered_pricing for model %q", m.Name)
	}
	if len(tiers) == 0 {
		return []PricingTier{{}}, nil
	}
	return tiers, nil
}

// TierFor returns the first tier whose UpTo is nil or at least cumulativeTokens (inclusive), per §4.10's
// "first tier whose boundary the cumulative usage falls under" resolution rule.
func TierFor(tiers []PricingTier, cumulativeTokens int64) PricingTier {
	for _, t := range tiers {
		if t.UpTo == nil || cumulativeTokens <= *t.UpTo {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// Model associates a GlobalModel with an Endpoint that can serve it, optionally overriding the
// endpoint's default pricing for that specific model.
type Model struct {
	Id                int     `json:"id" gorm:"primaryKey"`
	EndpointId        int     `json:"endpoint_id" gorm:"index"`
	GlobalModelName   string  `json:"global_model_name" gorm:"size:128;index"`
	ProviderModelName string  `json:"provider_model_name" gorm:"size:128"`
	RatioOverride     float64 `json:"ratio_override"`
	CompletionRatioOverride float64 `json:"completion_ratio_override"`
	Enabled           bool    `json:"enabled" gorm:"default:true"`
}
