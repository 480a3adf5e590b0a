// Package sseparser implements the Response Parser (§4.4): a per-dialect SSE line parser that
// produces a uniform ParsedChunk stream, and detects the "empty stream" fault the Executor
// treats as a retryable 502/503.
package sseparser

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaymesh/gateway/relay/format"
)

// ParsedChunk is the uniform shape every dialect's SSE events are mapped to.
type ParsedChunk struct {
	EventType                string
	TextDelta                string
	ResponseID                string
	StopReason                string
	InputTokens                int64
	OutputTokens               int64
	CacheCreationTokens        int64
	CacheReadTokens             int64
	CacheCreationEphemeral5mTokens int64
	CacheCreationEphemeral1hTokens int64
	// OpaqueDataJSON carries an unrecognized event type through verbatim, with no token
	// accounting, per §4.4.
	OpaqueDataJSON string
}

// parserState is the SSE line-reader state machine (§4.4): idle or in-event. A blank line
// completes the current event.
type parserState int

const (
	stateIdle parserState = iota
	stateInEvent
)

// Parser accumulates raw bytes across calls (a stream may split an event across reads) and
// decodes completed events into ParsedChunk, tracking whether any terminal event was observed.
type Parser struct {
	dialect       format.Dialect
	buf           strings.Builder
	currentEvent  string
	currentData   strings.Builder
	state         parserState
	chunkCount    int
	hasCompletion bool
}

// New constructs a Parser for the given dialect family (claude/openai/gemini); the variant
// (chat/cli) does not change the wire event shape.
func New(dialect format.Dialect) *Parser {
	return &Parser{dialect: dialect}
}

// Feed appends raw bytes and returns every ParsedChunk completed by them. Partial trailing lines
// are buffered for the next call.
func (p *Parser) Feed(raw []byte) []ParsedChunk {
	p.buf.Write(raw)
	lines, remainder := splitComplete(p.buf.String())
	p.buf.Reset()
	p.buf.WriteString(remainder)

	var out []ParsedChunk
	for _, line := range lines {
		if chunk, ok := p.feedLine(line); ok {
			out = append(out, chunk)
		}
	}
	return out
}

func (p *Parser) feedLine(line string) (ParsedChunk, bool) {
	switch {
	case line == "":
		if p.state != stateInEvent {
			return ParsedChunk{}, false
		}
		p.state = stateIdle
		eventType := p.currentEvent
		data := p.currentData.String()
		p.currentEvent = ""
		p.currentData.Reset()
		return p.decode(eventType, data)

	case strings.HasPrefix(line, "event:"):
		p.state = stateInEvent
		p.currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return ParsedChunk{}, false

	case strings.HasPrefix(line, "data:"):
		p.state = stateInEvent
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")
		if p.currentData.Len() > 0 {
			p.currentData.WriteByte('\n')
		}
		p.currentData.WriteString(payload)
		return ParsedChunk{}, false

	default:
		// Unrecognized line (comment, id:, retry:) -- ignored.
		return ParsedChunk{}, false
	}
}

func (p *Parser) decode(eventType, data string) (ParsedChunk, bool) {
	if data == "" {
		return ParsedChunk{}, false
	}
	if data == "[DONE]" {
		p.hasCompletion = true
		return ParsedChunk{EventType: "done", StopReason: "stop"}, true
	}

	root := gjson.Parse(data)
	var chunk ParsedChunk
	switch p.dialect.Family() {
	case format.Claude:
		chunk = decodeClaude(eventType, root)
	case format.OpenAI:
		chunk = decodeOpenAI(root)
	case format.Gemini:
		chunk = decodeGemini(root)
	default:
		chunk = ParsedChunk{EventType: eventType, OpaqueDataJSON: data}
	}

	if chunk.EventType == "" {
		chunk.EventType = eventType
	}
	if isTerminalEvent(p.dialect, eventType, root) {
		p.hasCompletion = true
	}
	p.chunkCount++
	return chunk, true
}

func isTerminalEvent(dialect format.Dialect, eventType string, root gjson.Result) bool {
	switch dialect.Family() {
	case format.Claude:
		return eventType == "message_stop"
	case format.OpenAI:
		return root.Get("choices.0.finish_reason").String() != ""
	case format.Gemini:
		return root.Get("candidates.0.finishReason").String() != ""
	default:
		return false
	}
}

func decodeClaude(eventType string, root gjson.Result) ParsedChunk {
	chunk := ParsedChunk{EventType: eventType}
	switch eventType {
	case "content_block_delta":
		chunk.TextDelta = root.Get("delta.text").String()
	case "message_start":
		chunk.ResponseID = root.Get("message.id").String()
		usage := root.Get("message.usage")
		chunk.InputTokens = usage.Get("input_tokens").Int()
		chunk.CacheCreationTokens = usage.Get("cache_creation_input_tokens").Int()
		chunk.CacheReadTokens = usage.Get("cache_read_input_tokens").Int()
		chunk.CacheCreationEphemeral5mTokens = usage.Get("cache_creation.ephemeral_5m_input_tokens").Int()
		chunk.CacheCreationEphemeral1hTokens = usage.Get("cache_creation.ephemeral_1h_input_tokens").Int()
	case "message_delta":
		chunk.StopReason = root.Get("delta.stop_reason").String()
		usage := root.Get("usage")
		chunk.OutputTokens = usage.Get("output_tokens").Int()
	case "message_stop":
		chunk.StopReason = "stop"
	default:
		chunk.OpaqueDataJSON = root.Raw
	}
	return chunk
}

func decodeOpenAI(root gjson.Result) ParsedChunk {
	chunk := ParsedChunk{
		ResponseID: root.Get("id").String(),
		TextDelta:  root.Get("choices.0.delta.content").String(),
		StopReason: root.Get("choices.0.finish_reason").String(),
	}
	usage := root.Get("usage")
	if usage.Exists() {
		chunk.InputTokens = usage.Get("prompt_tokens").Int()
		chunk.OutputTokens = usage.Get("completion_tokens").Int()
	}
	return chunk
}

func decodeGemini(root gjson.Result) ParsedChunk {
	chunk := ParsedChunk{
		TextDelta:  root.Get("candidates.0.content.parts.0.text").String(),
		StopReason: root.Get("candidates.0.finishReason").String(),
	}
	usage := root.Get("usageMetadata")
	chunk.InputTokens = usage.Get("promptTokenCount").Int()
	chunk.OutputTokens = usage.Get("candidatesTokenCount").Int()
	return chunk
}

// splitComplete splits buffered text into complete "\n"-terminated lines (stripping any \r) plus
// the remaining partial tail. Per §4.4, data lines are joined with "\n", never "\r\n".
func splitComplete(buffered string) (lines []string, remainder string) {
	lastNewline := strings.LastIndexByte(buffered, '\n')
	if lastNewline < 0 {
		return nil, buffered
	}
	complete := buffered[:lastNewline]
	remainder = buffered[lastNewline+1:]
	for _, line := range strings.Split(complete, "\n") {
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	return lines, remainder
}

// HasCompletion reports whether a terminal event has been observed.
func (p *Parser) HasCompletion() bool { return p.hasCompletion }

// ChunkCount reports how many ParsedChunk events have been decoded so far.
func (p *Parser) ChunkCount() int { return p.chunkCount }

// IsEmptyStream reports the §4.4 fault condition: bytes were fed in but zero chunks were parsed,
// or a stream ended without ever observing a terminal event despite zero chunks.
func (p *Parser) IsEmptyStream(bytesReceived bool) bool {
	return bytesReceived && p.chunkCount == 0 && !p.hasCompletion
}
