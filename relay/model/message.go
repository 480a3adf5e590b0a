package model

import "encoding/json"

// Content block types carried on a MessageContent part.
const (
	ContentTypeText       = "text"
	ContentTypeImageURL   = "image_url"
	ContentTypeInputAudio = "input_audio"
)

// ReasoningFormat selects which wire field a provider's reasoning/thinking trace is surfaced
// under, since different OpenAI-compatible upstreams settled on different field names.
type ReasoningFormat string

const (
	ReasoningFormatReasoning        ReasoningFormat = "reasoning"
	ReasoningFormatReasoningContent ReasoningFormat = "reasoning_content"
)

// Message is one turn of a Chat Completions conversation. Content is polymorphic: a plain string
// for text-only turns, or a []MessageContent (after ParseContent normalizes a raw []any) for
// multimodal turns.
type Message struct {
	Role             string  `json:"role"`
	Content          any     `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
	Reasoning        *string `json:"reasoning,omitempty"`
	// Thinking and Signature carry Claude-dialect extended-thinking deltas when a request is
	// proxied through an OpenAI-compatible streaming upstream.
	Thinking   *string `json:"thinking,omitempty"`
	Signature  *string `json:"signature,omitempty"`
	Name       *string `json:"name,omitempty"`
	ToolCalls  []Tool  `json:"tool_calls,omitempty"`
	ToolCallId string  `json:"tool_call_id,omitempty"`
}

// SetReasoningContent stores text under the field named by format, so callers can normalize a
// provider's reasoning trace to whichever of Reasoning/ReasoningContent the client asked for.
func (m *Message) SetReasoningContent(format string, text string) {
	switch ReasoningFormat(format) {
	case ReasoningFormatReasoning:
		m.Reasoning = &text
	default:
		m.ReasoningContent = &text
	}
}

// IsStringContent reports whether Content holds a plain string rather than content parts.
func (m *Message) IsStringContent() bool {
	_, ok := m.Content.(string)
	return ok
}

// StringContent returns Content as a string, rendering non-string content as JSON so callers
// always have something printable.
func (m *Message) StringContent() string {
	if s, ok := m.Content.(string); ok {
		return s
	}
	if b, err := json.Marshal(m.Content); err == nil {
		return string(b)
	}
	return ""
}

// ParseContent normalizes Content into a slice of MessageContent parts. A plain string becomes a
// single text part; a []any (as decoded from JSON) is parsed block by block; anything else
// yields no parts.
func (m *Message) ParseContent() []MessageContent {
	if s, ok := m.Content.(string); ok {
		return []MessageContent{{Type: ContentTypeText, Text: &s}}
	}

	if parts, ok := m.Content.([]MessageContent); ok {
		return parts
	}

	raw, ok := m.Content.([]any)
	if !ok {
		return nil
	}

	parsed := make([]MessageContent, 0, len(raw))
	for _, block := range raw {
		blockMap, ok := block.(map[string]any)
		if !ok {
			continue
		}

		blockType, _ := blockMap["type"].(string)
		switch blockType {
		case ContentTypeText:
			if text, ok := blockMap["text"].(string); ok {
				parsed = append(parsed, MessageContent{Type: ContentTypeText, Text: &text})
			}
		case ContentTypeImageURL:
			imageURL := &ImageURL{}
			if img, ok := blockMap["image_url"].(map[string]any); ok {
				if url, ok := img["url"].(string); ok {
					imageURL.Url = url
				}
				if detail, ok := img["detail"].(string); ok {
					imageURL.Detail = detail
				}
			}
			parsed = append(parsed, MessageContent{Type: ContentTypeImageURL, ImageURL: imageURL})
		case ContentTypeInputAudio:
			if audio, ok := blockMap["input_audio"].(map[string]any); ok {
				inputAudio := &InputAudio{}
				if data, ok := audio["data"].(string); ok {
					inputAudio.Data = data
				}
				if format, ok := audio["format"].(string); ok {
					inputAudio.Format = format
				}
				parsed = append(parsed, MessageContent{Type: ContentTypeInputAudio, InputAudio: inputAudio})
			}
		}
	}

	return parsed
}

// MessageContent is one block of a multimodal message: text, an image reference, or inline audio.
type MessageContent struct {
	Type       string      `json:"type"`
	Text       *string     `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

// ImageURL points at image content, either a remote URL or a data: URI.
type ImageURL struct {
	Url    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// InputAudio carries inline base64 audio content.
type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}
