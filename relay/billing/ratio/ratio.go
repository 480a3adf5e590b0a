// Package ratio carries legacy per-token pricing constants and a small model-name based
// fallback table. The Billing Engine only falls back here when the resolved pricing tier has
// neither an input nor an output price.
package ratio

import "strings"

// MilliTokensUsd converts a "$X per 1M tokens" sticker price into a per-token USD ratio, so
// pricing tables such as fallbackRatio can be written the way vendors publish them.
const MilliTokensUsd = 1.0 / 1_000_000.0

// QuotaPerUsd is the legacy quota-unit scale factor (quota units per USD); nothing in this
// build reads it.
const QuotaPerUsd = 500_000.0

// defaultAudioTokensPerSecond applies to audio-capable chat models without a specific entry.
const defaultAudioTokensPerSecond = 6.25

var audioTokensPerSecond = map[string]float64{
	"gpt-4o-audio-preview":      6.25,
	"gpt-4o-mini-audio-preview": 6.25,
}

// GetAudioPromptTokensPerSecond reports the token-per-second rate used to estimate prompt
// tokens for inline audio input, by model name.
func GetAudioPromptTokensPerSecond(modelName string) float64 {
	if rate, ok := audioTokensPerSecond[modelName]; ok {
		return rate
	}
	return defaultAudioTokensPerSecond
}

// fallbackRatio is consulted only when the resolved pricing tier carries no input or output
// price.
var fallbackRatio = map[string]float64{
	"gpt-4o":      2.5 * MilliTokensUsd,
	"gpt-4o-mini": 0.15 * MilliTokensUsd,
	"gpt-4.1":     2 * MilliTokensUsd,
	"gpt-4.1-mini": 0.4 * MilliTokensUsd,
	"o1":          15 * MilliTokensUsd,
	"o3-mini":     1.1 * MilliTokensUsd,
}

var fallbackCompletionRatio = map[string]float64{
	"gpt-4o":       4,
	"gpt-4o-mini":  4,
	"gpt-4.1":      4,
	"gpt-4.1-mini": 4,
	"o1":           4,
	"o3-mini":      4,
}

// GetModelRatio resolves a last-resort per-token USD ratio for a model name, independent of
// channel type, when no other pricing source has an entry for it.
func GetModelRatio(modelName string, _ int) float64 {
	if r, ok := fallbackRatio[modelName]; ok {
		return r
	}
	for prefix, r := range fallbackRatio {
		if strings.HasPrefix(modelName, prefix) {
			return r
		}
	}
	return 2.5 * MilliTokensUsd
}

// GetCompletionRatio resolves a last-resort output/input price multiplier for a model name.
func GetCompletionRatio(modelName string, _ int) float64 {
	if r, ok := fallbackCompletionRatio[modelName]; ok {
		return r
	}
	return 4
}
