package format

import "github.com/tidwall/gjson"

func registerOpenAIGemini(r *Registry) {
	r.register(OpenAIChat, GeminiChat, &Converter{
		From: OpenAIChat, To: GeminiChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildGemini(parseOpenAI(body)) },
		ConvertChunk:   openAIChunkToGemini,
	})
	r.register(GeminiChat, OpenAIChat, &Converter{
		From: GeminiChat, To: OpenAIChat,
		ConvertRequest: func(body []byte) ([]byte, error) { return buildOpenAI(parseGemini(body)) },
		ConvertChunk:   geminiChunkToOpenAI,
	})
}

func openAIChunkToGemini(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	if fr := root.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
		return "", []byte(`{"candidates":[{"finishReason":"STOP"}]}`), true, nil
	}
	delta := root.Get("choices.0.delta.content")
	if !delta.Exists() {
		return "", nil, false, nil
	}
	out := []byte(`{"candidates":[{"content":{"parts":[{"text":""}]}}]}`)
	out = setOrDelete(out, "candidates.0.content.parts.0.text", delta.String())
	return "", out, true, nil
}

func geminiChunkToOpenAI(eventType string, data []byte) (string, []byte, bool, error) {
	root := gjson.ParseBytes(data)
	if fr := root.Get("candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
		out := []byte(`{"choices":[{"delta":{},"finish_reason":"stop","index":0}],"object":"chat.completion.chunk"}`)
		return "", out, true, nil
	}
	text := root.Get("candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", nil, false, nil
	}
	out := []byte(`{"choices":[{"delta":{"content":""},"index":0}],"object":"chat.completion.chunk"}`)
	out = setOrDelete(out, "choices.0.delta.content", text.String())
	return "", out, true, nil
}
