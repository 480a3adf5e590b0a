package sseparser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/gateway/relay/format"
)

const claudeStream = "event: message_start\n" +
	"data: {\"message\":{\"id\":\"msg_1\",\"usage\":{\"input_tokens\":10,\"cache_creation_input_tokens\":2,\"cache_read_input_tokens\":1}}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"delta\":{\"text\":\"hel\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"delta\":{\"text\":\"lo\"}}\n\n" +
	"event: message_delta\n" +
	"data: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":7}}\n\n" +
	"event: message_stop\n" +
	"data: {}\n\n"

func TestParserFeedDecodesClaudeStream(t *testing.T) {
	p := New(format.ClaudeChat)
	chunks := p.Feed([]byte(claudeStream))

	require.Len(t, chunks, 5)
	require.Equal(t, "msg_1", chunks[0].ResponseID)
	require.Equal(t, int64(10), chunks[0].InputTokens)
	require.Equal(t, int64(2), chunks[0].CacheCreationTokens)
	require.Equal(t, int64(1), chunks[0].CacheReadTokens)
	require.Equal(t, "hel", chunks[1].TextDelta)
	require.Equal(t, "lo", chunks[2].TextDelta)
	require.Equal(t, "end_turn", chunks[3].StopReason)
	require.Equal(t, int64(7), chunks[3].OutputTokens)
	require.Equal(t, "stop", chunks[4].StopReason)
	require.True(t, p.HasCompletion())
	require.Equal(t, 5, p.ChunkCount())
}

// TestParserFeedIsByteBoundaryInvariant is the §8 round-trip law for the Response Parser: a
// stream split across arbitrarily many Feed calls must decode to the same ParsedChunk sequence as
// a single Feed call over the whole stream, modulo whitespace in data lines.
func TestParserFeedIsByteBoundaryInvariant(t *testing.T) {
	whole := New(format.ClaudeChat)
	wholeChunks := whole.Feed([]byte(claudeStream))

	split := New(format.ClaudeChat)
	var splitChunks []ParsedChunk
	raw := []byte(claudeStream)
	for i := 0; i < len(raw); i += 7 {
		end := i + 7
		if end > len(raw) {
			end = len(raw)
		}
		splitChunks = append(splitChunks, split.Feed(raw[i:end])...)
	}

	require.Equal(t, wholeChunks, splitChunks)
	require.Equal(t, whole.HasCompletion(), split.HasCompletion())
	require.Equal(t, whole.ChunkCount(), split.ChunkCount())
}

func TestParserDecodesOpenAIStream(t *testing.T) {
	p := New(format.OpenAIChat)
	raw := "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":1}}\n\n" +
		"data: [DONE]\n\n"
	chunks := p.Feed([]byte(raw))
	require.Len(t, chunks, 3)
	require.Equal(t, "hi", chunks[0].TextDelta)
	require.Equal(t, "stop", chunks[1].StopReason)
	require.Equal(t, int64(3), chunks[1].InputTokens)
	require.Equal(t, "done", chunks[2].EventType)
	require.True(t, p.HasCompletion())
}

func TestParserUnrecognizedEventPreservesOpaqueData(t *testing.T) {
	p := New(format.ClaudeChat)
	raw := "event: ping\ndata: {\"type\":\"ping\"}\n\n"
	chunks := p.Feed([]byte(raw))
	require.Len(t, chunks, 1)
	require.Equal(t, "ping", chunks[0].EventType)
	require.JSONEq(t, `{"type":"ping"}`, chunks[0].OpaqueDataJSON)
}

func TestIsEmptyStreamTrueWhenBytesButNoChunksOrCompletion(t *testing.T) {
	p := New(format.ClaudeChat)
	p.Feed([]byte("id: 1\n\n")) // comment/id lines only, no event/data
	require.True(t, p.IsEmptyStream(true))
}

func TestIsEmptyStreamFalseWhenNoBytesReceived(t *testing.T) {
	p := New(format.ClaudeChat)
	require.False(t, p.IsEmptyStream(false))
}

func TestIsEmptyStreamFalseAfterCompletion(t *testing.T) {
	p := New(format.ClaudeChat)
	p.Feed([]byte(claudeStream))
	require.False(t, p.IsEmptyStream(true))
}
