package model

// GeneralOpenAIRequest is the superset request body accepted on the OpenAI-compatible chat and
// completion routes. The relay/format converters work on raw JSON and do not decode into this
// type.
type GeneralOpenAIRequest struct {
	Model            string    `json:"model,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Prompt           any       `json:"prompt,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
	StreamOptions    *StreamOptions `json:"stream_options,omitempty"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	// MaxCompletionTokens supersedes MaxTokens on the Chat Completions API.
	MaxCompletionTokens *int     `json:"max_completion_tokens,omitempty"`
	MaxOutputTokens     *int     `json:"max_output_tokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	N                   *int     `json:"n,omitempty"`
	Stop                any      `json:"stop,omitempty"`
	PresencePenalty     *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
	LogitBias           any      `json:"logit_bias,omitempty"`
	Logprobs            *bool    `json:"logprobs,omitempty"`
	TopLogprobs         *int     `json:"top_logprobs,omitempty"`
	User                *string  `json:"user,omitempty"`
	Seed                *int     `json:"seed,omitempty"`

	Functions    []Function `json:"functions,omitempty"`
	FunctionCall any        `json:"function_call,omitempty"`
	Tools        []Tool     `json:"tools,omitempty"`
	ToolChoice   any        `json:"tool_choice,omitempty"`
	// ParallelTooCalls allows the model to invoke multiple tools in one turn. Only the Go field
	// name is misspelled; the wire field is parallel_tool_calls.
	ParallelTooCalls *bool `json:"parallel_tool_calls,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	ServiceTier    *string         `json:"service_tier,omitempty"`

	ReasoningEffort  *string                 `json:"reasoning_effort,omitempty"`
	Reasoning        *OpenAIResponseReasoning `json:"reasoning,omitempty"`
	IncludeReasoning *bool                   `json:"include_reasoning,omitempty"`
	Thinking         any                     `json:"thinking,omitempty"`

	Audio      any   `json:"audio,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	Prediction any   `json:"prediction,omitempty"`

	// Background, Input, and Instructions serve the Responses API surface; they are nil on a
	// Chat Completions request.
	Background   *bool  `json:"background,omitempty"`
	Input        []any  `json:"input,omitempty"`
	Instructions *string `json:"instructions,omitempty"`

	Store            *bool             `json:"store,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Text             *TextOptions      `json:"text,omitempty"`
	WebSearchOptions *WebSearchOptions `json:"web_search_options,omitempty"`

	// Provider steers OpenRouter-style upstreams toward a specific backing provider.
	Provider *RequestProvider `json:"provider,omitempty"`
}

// TextOptions carries the Responses API text-output configuration, including a JSON-schema
// response format nested under Format.
type TextOptions struct {
	Format *ResponseFormat `json:"format,omitempty"`
}

// OpenAIResponseReasoning configures reasoning-model behavior on the Responses API: how much
// effort to spend and whether to surface a reasoning summary.
type OpenAIResponseReasoning struct {
	Effort  *string `json:"effort,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

// RequestProvider steers routing on OpenRouter-style aggregator upstreams.
type RequestProvider struct {
	Sort       string   `json:"sort,omitempty"`
	Order      []string `json:"order,omitempty"`
	AllowFallbacks *bool `json:"allow_fallbacks,omitempty"`
}

// StreamOptions controls the trailing usage chunk on a streamed Chat Completions response.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ResponseFormat requests a constrained output shape ("text", "json_object", or "json_schema").
type ResponseFormat struct {
	Type       string      `json:"type,omitempty"`
	JsonSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the schema body for a ResponseFormat of type "json_schema".
type JSONSchema struct {
	Name   string `json:"name,omitempty"`
	Schema any    `json:"schema,omitempty"`
	Strict *bool  `json:"strict,omitempty"`
}

// Thinking enables extended-thinking mode on a Claude-dialect request forwarded through the
// Chat Completions surface.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// WebSearchOptions configures the built-in web_search tool on a Chat Completions request.
type WebSearchOptions struct {
	SearchContextSize *string           `json:"search_context_size,omitempty"`
	Filters           *WebSearchFilters `json:"filters,omitempty"`
	UserLocation      *UserLocation     `json:"user_location,omitempty"`
}

// ImageRequest is the body accepted on the image-generation route.
type ImageRequest struct {
	Model          string  `json:"model,omitempty"`
	Prompt         string  `json:"prompt"`
	N              int     `json:"n,omitempty"`
	Size           string  `json:"size,omitempty"`
	Quality        string  `json:"quality,omitempty"`
	Style          string  `json:"style,omitempty"`
	ResponseFormat *string `json:"response_format,omitempty"`
	User           string  `json:"user,omitempty"`
}
