package format

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// normalizedMessage is the intermediate shape every request converter maps through, so that the
// round-trip law (§8) only needs each dialect <-> normalized mapping to be correct, not every
// pairwise combination directly.
type normalizedMessage struct {
	Role         string
	Text         string
	CacheControl string // raw cache_control.ttl class ("ephemeral", "1h", ...), "" if absent
}

type normalizedTool struct {
	Name        string
	Description string
	Parameters  gjson.Result
}

type normalizedRequest struct {
	Model       string
	System      string
	Messages    []normalizedMessage
	Tools       []normalizedTool
	MaxTokens   int64
	Temperature *float64
	Stream      bool
}

// sideChannelKey carries fields a target dialect has no native slot for (cache_control class on
// non-Claude targets) so a later conversion back to Claude can restore them exactly, satisfying
// the round-trip law even across a lossy intermediate dialect.
const sideChannelKey = "_gateway_cache_control"

// Converter performs a bidirectional request/response transformation between two dialects.
// A conversion is admissible (per §4.1) only when both ConvertRequest and streaming delta
// rewriting are registered in both directions; Registry.Converter enforces that.
type Converter struct {
	From, To Dialect
	// ConvertRequest rewrites a request body from From's wire shape to To's.
	ConvertRequest func(body []byte) ([]byte, error)
	// ConvertChunk rewrites one decoded SSE/stream event from From's shape to To's, returning
	// ok=false when the event carries no representable delta in To (dropped, not emitted).
	ConvertChunk func(eventType string, dataJSON []byte) (rewrittenType string, rewrittenData []byte, ok bool, err error)
}

// Registry is the Format Registry's converter matrix: registry[from][to].
type Registry struct {
	converters map[Dialect]map[Dialect]*Converter
}

// NewRegistry builds a Registry pre-populated with the claude/openai/gemini chat-family
// converters (§4.1, §9 DOMAIN STACK).
func NewRegistry() *Registry {
	r := &Registry{converters: map[Dialect]map[Dialect]*Converter{}}
	registerClaudeOpenAI(r)
	registerClaudeGemini(r)
	registerOpenAIGemini(r)
	return r
}

func (r *Registry) register(from, to Dialect, c *Converter) {
	if r.converters[from] == nil {
		r.converters[from] = map[Dialect]*Converter{}
	}
	r.converters[from][to] = c
}

// Converter returns the (from, to) converter iff both directions are registered -- an admissible
// conversion per §4.1.
func (r *Registry) Converter(from, to Dialect) (*Converter, bool) {
	if from == to {
		return nil, false
	}
	fwd, fwdOK := r.converters[from][to]
	_, backOK := r.converters[to][from]
	if fwdOK && backOK {
		return fwd, true
	}
	return nil, false
}

// chatFamily collapses a :cli dialect to its :chat counterpart for the purpose of picking a
// converter pair -- cli/chat share the same wire body shape, only defaults and envelope
// sanitation (§4.5.4) differ.
func chatFamily(d Dialect) Dialect {
	switch d.Family() {
	case Claude:
		return ClaudeChat
	case OpenAI:
		return OpenAIChat
	case Gemini:
		return GeminiChat
	default:
		return d
	}
}

func getFloatPtr(v gjson.Result, path string) *float64 {
	r := v.Get(path)
	if !r.Exists() {
		return nil
	}
	f := r.Float()
	return &f
}

func setOrDelete(body []byte, path string, value any) []byte {
	if value == nil {
		out, err := sjson.DeleteBytes(body, path)
		if err != nil {
			return body
		}
		return out
	}
	out, err := sjson.SetBytes(body, path, value)
	if err != nil {
		return body
	}
	return out
}
