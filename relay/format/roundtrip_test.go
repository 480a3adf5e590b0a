package format

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// TestRegistryConverterRequiresBothDirections is the §4.1 admissibility rule: a conversion is
// only usable when both directions are registered.
func TestRegistryConverterRequiresBothDirections(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Converter(ClaudeChat, OpenAIChat)
	require.True(t, ok)
	_, ok = r.Converter(OpenAIChat, ClaudeChat)
	require.True(t, ok)
	_, ok = r.Converter(ClaudeChat, ClaudeChat)
	require.False(t, ok)
}

// TestClaudeOpenAIRequestRoundTrip is the §8 round-trip law for the Format Registry: converting a
// request from one dialect to another and back must preserve every field the normalized form
// carries, including a cache_control class that the intermediate dialect (OpenAI) has no native
// slot for and must therefore round-trip through the side channel.
func TestClaudeOpenAIRequestRoundTrip(t *testing.T) {
	r := NewRegistry()
	toOpenAI, ok := r.Converter(ClaudeChat, OpenAIChat)
	require.True(t, ok)
	toClaude, ok := r.Converter(OpenAIChat, ClaudeChat)
	require.True(t, ok)

	original := []byte(`{
		"model": "claude-3-opus",
		"system": "be terse",
		"max_tokens": 512,
		"temperature": 0.5,
		"stream": true,
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "hi", "cache_control": {"type": "ephemeral", "ttl": "1h"}}]},
			{"role": "assistant", "content": "hello"}
		],
		"tools": [{"name": "lookup", "description": "look things up", "input_schema": {"type": "object"}}]
	}`)

	openAI, err := toOpenAI.ConvertRequest(original)
	require.NoError(t, err)
	require.Equal(t, "claude-3-opus", gjson.GetBytes(openAI, "model").String())
	require.Equal(t, "be terse", gjson.GetBytes(openAI, "messages.0.content").String())
	require.Equal(t, "user", gjson.GetBytes(openAI, "messages.1.role").String())

	back, err := toClaude.ConvertRequest(openAI)
	require.NoError(t, err)

	require.Equal(t, "claude-3-opus", gjson.GetBytes(back, "model").String())
	require.Equal(t, "be terse", gjson.GetBytes(back, "system").String())
	require.Equal(t, int64(512), gjson.GetBytes(back, "max_tokens").Int())
	require.Equal(t, 0.5, gjson.GetBytes(back, "temperature").Float())
	require.True(t, gjson.GetBytes(back, "stream").Bool())
	require.Equal(t, "hi", gjson.GetBytes(back, "messages.0.content.0.text").String())
	require.Equal(t, "1h", gjson.GetBytes(back, "messages.0.content.0.cache_control.ttl").String())
	require.Equal(t, "hello", gjson.GetBytes(back, "messages.1.content.0.text").String())
	require.Equal(t, "lookup", gjson.GetBytes(back, "tools.0.name").String())
}

func TestClaudeOpenAIChunkConversion(t *testing.T) {
	gotType, gotData, ok, err := claudeChunkToOpenAI("content_block_delta", []byte(`{"delta":{"text":"hi"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", gotType)
	require.Equal(t, "hi", gjson.GetBytes(gotData, "choices.0.delta.content").String())

	_, _, ok, err = claudeChunkToOpenAI("ping", []byte(`{}`))
	require.NoError(t, err)
	require.False(t, ok)

	rewrittenType, rewrittenData, ok, err := openAIChunkToClaude("", []byte(`{"choices":[{"delta":{"content":"yo"}}]}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "content_block_delta", rewrittenType)
	require.Equal(t, "yo", gjson.GetBytes(rewrittenData, "delta.text").String())
}
