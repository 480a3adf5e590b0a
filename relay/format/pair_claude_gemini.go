package format

import "github.com/tidwall/gjson"

func registerClaudeGemini(r *Registry) {
	r.register(ClaudeChat, GeminiChat, &Converter{
		From: ClaudeChat, To: GeminiChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildGemini(parseClaude(body)) },
		ConvertChunk:   claudeChunkToGemini,
	})
	r.register(GeminiChat, ClaudeChat, &Converter{
		From: GeminiChat, To: ClaudeChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildClaude(parseGemini(body)) },
		ConvertChunk:   geminiChunkToClaude,
	})
}

func claudeChunkToGemini(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	switch eventType {
	case "content_block_delta":
		out := []byte(`{"candidates":[{"content":{"parts":[{"text":""}]}}]}`)
		out = setOrDelete(out, "candidates.0.content.parts.0.text", root.Get("delta.text").String())
		return "", out, true, nil
	case "message_stop":
		out := []byte(`{"candidates":[{"finishReason":"STOP"}]}`)
		return "", out, true, nil
	default:
		return "", nil, false, nil
	}
}

func geminiChunkToClaude(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	if fr := root.Get("candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
		return "message_stop", []byte(`{"type":"message_stop"}`), true, nil
	}
	text := root.Get("candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", nil, false, nil
	}
	out := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}`)
	out = setOrDelete(out, "delta.text", text.String())
	return "content_block_delta", out, true, nil
}
