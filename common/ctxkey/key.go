package ctxkey

import "github.com/gin-gonic/gin"

const (
	// Config names the gin context slot for the resolved provider/endpoint configuration.
	// Nothing in this build sets it.
	Config = "config"

	// Id is the authenticated tenant id for the current request.
	Id = "id"

	// RequestId is the per-request unique identifier used for usage rows, logging, and metrics.
	RequestId = "X-Gateway-Request-Id"

	// Username labels requests for audit logging; populated when the credential carries one.
	Username = "username"

	// Role is reserved for future tenant-role based routing decisions.
	Role = "role"

	// ChannelModel names the gin context slot for the selected model.Endpoint.
	// Nothing in this build sets it.
	ChannelModel = "channel_model"

	// ChannelRatio is the pricing ratio override attached to the selected endpoint, if any.
	ChannelRatio = "channel_ratio"

	// Channel is the wire dialect of the upstream provider serving this request.
	Channel = "channel"

	// ChannelId is the database id of the selected model.Endpoint.
	ChannelId = "channel_id"

	// SpecificChannelId indicates the caller explicitly pinned an endpoint, bypassing the Pool
	// Manager's normal ordering.
	SpecificChannelId = "specific_channel_id"

	// RequestModel is the model name as requested by the client. Never mutated; provider-specific
	// renames live on model.Model.ProviderModelName, not on this value.
	RequestModel = "request_model"

	// ConvertedRequest holds the provider-specific request body after Format Registry conversion.
	ConvertedRequest = "converted_request"

	// RelayMode records the relay processing mode (chat, embeddings, etc.) selected for the request.
	RelayMode = "relay_mode"

	// ImageRequest caches a converted image-generation payload for downstream handlers.
	ImageRequest = "image_request"

	// WebSearchCallCount stores the number of web-search tool invocations observed in the
	// upstream response, consumed during billing adjustments.
	WebSearchCallCount = "web_search_call_count"

	// Group is the tenant's routing group (affects which endpoints are eligible candidates).
	Group = "group"

	// ModelMapping is the logical-to-provider model name mapping table for the selected endpoint.
	ModelMapping = "model_mapping"

	// ChannelName is the human-readable name of the selected endpoint.
	ChannelName = "channel_name"

	// ContentType is the incoming request's Content-Type header value.
	ContentType = "content_type"

	// TokenId is the id of the credential used for this request.
	TokenId = "token_id"

	// TokenName is the human-readable label of the credential used for this request.
	TokenName = "token_name"

	// TokenQuota is the remaining quota on the credential at the time of admission.
	TokenQuota = "token_quota"

	// TokenQuotaUnlimited indicates the credential has unlimited quota semantics.
	TokenQuotaUnlimited = "token_quota_unlimited"

	// UserQuota optionally carries the tenant's quota for metrics/UI labeling.
	UserQuota = "user_quota"

	// BaseURL is the provider base URL resolved from the selected endpoint.
	BaseURL = "base_url"

	// AvailableModels is the CSV of models allowed by the credential.
	AvailableModels = "available_models"

	// KeyRequestBody caches the raw request body bytes for reuse (avoid double reads across
	// the Format Registry and the Executor).
	KeyRequestBody = gin.BodyBytesKey

	// SystemPrompt is a forced/extra system prompt configured on the endpoint.
	SystemPrompt = "system_prompt"

	// Meta holds the aggregated per-request dispatch metadata.
	Meta = "meta"

	// RateLimit is the per-endpoint request-per-minute limit.
	RateLimit = "rate_limit"

	// ClaudeMessagesConversion flags that this request/response should be converted between the
	// Claude Messages dialect and another provider format.
	ClaudeMessagesConversion = "claude_messages_conversion"

	// OriginalClaudeRequest stores the original Claude Messages request struct for conversion.
	OriginalClaudeRequest = "original_claude_request"

	// ClaudeModel is the Claude model name for native Anthropic flows.
	ClaudeModel = "claude_model"

	// ClaudeMessagesNative marks that the request uses native Claude Messages passthrough
	// (no conversion to other dialects).
	ClaudeMessagesNative = "claude_messages_native"

	// ClaudeDirectPassthrough indicates the request should be proxied to Claude directly without
	// conversion.
	ClaudeDirectPassthrough = "claude_direct_passthrough"

	// ConversationId is a deterministic id derived from messages for Claude "thinking" signature
	// caching and response verification.
	ConversationId = "conversation_id"

	// TempSignatureKey stores a temporary cache key for Claude "thinking" signatures.
	TempSignatureKey = "temp_signature_key"

	// ConvertedResponse holds a ClaudeMessages response converted from a provider-specific
	// response on non-streaming paths.
	ConvertedResponse = "converted_response"

	// DebugResponseWriter stores the body-capturing response writer used for debug logging of
	// outbound payloads.
	DebugResponseWriter = "debug_response_writer"

	// ResponseRewriteHandler stores a function that rewrites an upstream OpenAI-compatible chat
	// response into another dialect (e.g. Response API) before returning it to the client.
	ResponseRewriteHandler = "response_rewrite_handler"

	// ResponseRewriteApplied marks whether a rewrite handler already emitted the outbound payload.
	ResponseRewriteApplied = "response_rewrite_applied"

	// ResponseAPIRequestOriginal keeps the original Response API request payload so downstream
	// converters can hydrate metadata when rewriting responses.
	ResponseAPIRequestOriginal = "response_api_request_original"

	// ResponseStreamRewriteHandler stores a streaming rewrite adapter that transforms upstream
	// chat completion SSE chunks into another streaming dialect before flushing to the client.
	ResponseStreamRewriteHandler = "response_stream_rewrite_handler"

	// ResponseFormat carries the desired output format for image APIs.
	ResponseFormat = "response_format"

	// StreamingQuotaTracker stores the active Stream Tracker for incremental billing in
	// streaming flows.
	StreamingQuotaTracker = "streaming_quota_tracker"

	// Dialect holds the Format-Registry-detected wire dialect for the current request.
	Dialect = "dialect"

	// RawAPIKey is the caller-supplied credential extracted by the Format Registry, before any
	// lookup against the Credential Store.
	RawAPIKey = "raw_api_key"

	// Candidates holds the ordered []candidate.Candidate produced for this request.
	Candidates = "candidates"

	// PendingUsageID is the database id of the model.PendingUsage row admitted for this request.
	PendingUsageID = "pending_usage_id"
)
