package format

import "github.com/tidwall/gjson"

func registerClaudeOpenAI(r *Registry) {
	r.register(ClaudeChat, OpenAIChat, &Converter{
		From: ClaudeChat, To: OpenAIChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildOpenAI(parseClaude(body)) },
		ConvertChunk:   claudeChunkToOpenAI,
	})
	r.register(OpenAIChat, ClaudeChat, &Converter{
		From: OpenAIChat, To: ClaudeChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildClaude(parseOpenAI(body)) },
		ConvertChunk:   openAIChunkToClaude,
	})
}

// claudeChunkToOpenAI rewrites a Claude SSE event into an OpenAI chat.completion.chunk event.
// Only the text-delta and terminal events carry a representable OpenAI equivalent; anything else
// is dropped (ok=false), consistent with "unknown event types ... no token accounting" (§4.4).
func claudeChunkToOpenAI(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	switch eventType {
	case "content_block_delta":
		text := root.Get("delta.text").String()
		out := []byte(`{"choices":[{"delta":{"content":""},"index":0}],"object":"chat.completion.chunk"}`)
		out = setOrDelete(out, "choices.0.delta.content", text)
		return "", out, true, nil
	case "message_stop":
		out := []byte(`{"choices":[{"delta":{},"finish_reason":"stop","index":0}],"object":"chat.completion.chunk"}`)
		return "", out, true, nil
	default:
		return "", nil, false, nil
	}
}

// openAIChunkToClaude rewrites an OpenAI SSE `data: {...}` chunk into a Claude content_block_delta
// or message_stop event.
func openAIChunkToClaude(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	finish := root.Get("choices.0.finish_reason")
	if finish.Exists() && finish.String() != "" {
		out := []byte(`{"type":"message_stop"}`)
		return "message_stop", out, true, nil
	}
	delta := root.Get("choices.0.delta.content")
	if !delta.Exists() {
		return "", nil, false, nil
	}
	out := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}`)
	out = setOrDelete(out, "delta.text", delta.String())
	return "content_block_delta", out, true, nil
}
