package model

import "encoding/json"

// ClaudeRequest is the body accepted on the native Claude Messages API route. Cross-dialect
// conversion is done on raw JSON by relay/format, not through this type.
type ClaudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []ClaudeMessage `json:"messages"`
	System        any             `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        *bool           `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking      any             `json:"thinking,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// ClaudeMessage is one turn of a Claude Messages conversation. Content is either a plain string
// or a []any of content blocks (text, image, tool_use, tool_result).
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ClaudeTool is a tool definition on the Claude Messages API, distinct from the OpenAI-dialect
// Tool/Function pair: the schema lives directly under InputSchema rather than nested in a
// "function" envelope.
type ClaudeTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ClaudeResponse is a non-streaming Claude Messages API response, assembled by converters from
// whichever upstream dialect actually served the request.
type ClaudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	Content    []ClaudeContent `json:"content"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      ClaudeUsage     `json:"usage"`
}

// ClaudeContent is one content block of a ClaudeResponse: text, a thinking trace, or a tool_use
// invocation.
type ClaudeContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ClaudeUsage is the token accounting on a ClaudeResponse.
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
