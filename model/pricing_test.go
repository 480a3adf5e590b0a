package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTiersEmptyYieldsSingleZeroTier(t *testing.T) {
	m := &GlobalModel{Name: "unconfigured-model"}
	tiers, err := m.LoadTiers()
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	require.Nil(t, tiers[0].UpTo)
}

func TestLoadTiersDecodesJSON(t *testing.T) {
	m := &GlobalModel{TieredPricing: `[
		{"up_to": 200000, "input_price_per_million": 3, "output_price_per_million": 15},
		{"up_to": null, "input_price_per_million": 6, "output_price_per_million": 22.5}
	]`}
	tiers, err := m.LoadTiers()
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	require.EqualValues(t, 200000, *tiers[0].UpTo)
	require.Nil(t, tiers[1].UpTo)
}

func TestTierForPicksFirstMatchingBoundary(t *testing.T) {
	tiers, err := (&GlobalModel{TieredPricing: `[
		{"up_to": 100, "input_price_per_million": 1},
		{"up_to": null, "input_price_per_million": 2}
	]`}).LoadTiers()
	require.NoError(t, err)

	require.Equal(t, 1.0, TierFor(tiers, 50).InputPricePerMillion)
	require.Equal(t, 1.0, TierFor(tiers, 100).InputPricePerMillion)
	require.Equal(t, 2.0, TierFor(tiers, 101).InputPricePerMillion)
}

func TestResolvedCachePricesDerivesFromInputWhenUnset(t *testing.T) {
	tier := PricingTier{InputPricePerMillion: 10}
	creation, read := tier.ResolvedCachePrices("")
	require.Equal(t, 12.5, creation)
	require.Equal(t, 1.0, read)
}

func TestResolvedCachePricesHonorsExplicitOverrideAndTTL(t *testing.T) {
	readOverride := 2.0
	tier := PricingTier{
		InputPricePerMillion:     10,
		CacheReadPricePerMillion: &readOverride,
		CacheTTLPricing: []CacheTTLOverride{
			{TTL: "1h", CacheCreationPricePerMillion: 20},
		},
	}
	creation, read := tier.ResolvedCachePrices("1h")
	require.Equal(t, 20.0, creation)
	require.Equal(t, 2.0, read)

	creation, _ = tier.ResolvedCachePrices("5m")
	require.Equal(t, 12.5, creation, "a TTL not listed in cache_ttl_pricing falls back to the derived price")
}

func TestKeyEffectiveRateMultiplierDefaultsToOne(t *testing.T) {
	require.Equal(t, 1.0, (&Key{}).EffectiveRateMultiplier())
	require.Equal(t, 2.0, (&Key{RateMultiplier: 2}).EffectiveRateMultiplier())
}

func TestKeyHasCapabilities(t *testing.T) {
	k := &Key{Capabilities: "vision, tools"}
	require.True(t, k.HasCapabilities(nil))
	require.True(t, k.HasCapabilities([]string{"vision"}))
	require.True(t, k.HasCapabilities([]string{"vision", "tools"}))
	require.False(t, k.HasCapabilities([]string{"video"}))
}
