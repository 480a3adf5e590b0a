// Package format implements the Format Registry (§4.1): dialect detection from an incoming
// request's headers/path, the default path and auth-header convention for each dialect, and a
// bidirectional converter matrix between them.
package format

import (
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
)

// Family is the wire-protocol vendor a Dialect belongs to.
type Family string

const (
	Claude Family = "claude"
	OpenAI Family = "openai"
	Gemini Family = "gemini"
)

// Variant distinguishes the "chat" (general API consumer) shape of a Family from its stricter
// ":cli" shape (first-party CLI tooling) and the ":video" generation shape.
type Variant string

const (
	VariantChat  Variant = "chat"
	VariantCli   Variant = "cli"
	VariantVideo Variant = "video"
)

// Dialect is one of the wire protocols the gateway accepts (§6.1), formatted "family:variant" to
// match the GLOSSARY.
type Dialect string

const (
	ClaudeChat  Dialect = "claude:chat"
	ClaudeCli   Dialect = "claude:cli"
	OpenAIChat  Dialect = "openai:chat"
	OpenAICli   Dialect = "openai:cli"
	GeminiChat  Dialect = "gemini:chat"
	GeminiCli   Dialect = "gemini:cli"
	ClaudeVideo Dialect = "claude:video"
	OpenAIVideo Dialect = "openai:video"
	GeminiVideo Dialect = "gemini:video"
)

// Family returns the vendor family of d.
func (d Dialect) Family() Family {
	if idx := strings.IndexByte(string(d), ':'); idx >= 0 {
		return Family(d[:idx])
	}
	return ""
}

// Variant returns the chat/cli/video variant of d.
func (d Dialect) Variant() Variant {
	if idx := strings.IndexByte(string(d), ':'); idx >= 0 {
		return Variant(d[idx+1:])
	}
	return ""
}

// AuthScheme is how the dialect's credential travels on the wire.
type AuthScheme string

const (
	SchemeBearer AuthScheme = "bearer"
	SchemeHeader AuthScheme = "header"
	SchemeQuery  AuthScheme = "query"
)

// cliUserAgentTokens promote a chat dialect to its :cli counterpart when found (case-insensitive
// substring) in the User-Agent header.
var cliUserAgentTokens = []string{"claude-code", "gemini-cli", "codex-cli", "openai-cli"}

// DefaultPath returns the canonical request path for d.
func DefaultPath(d Dialect) string {
	switch d.Family() {
	case Claude:
		return "/v1/messages"
	case OpenAI:
		if d.Variant() == VariantVideo {
			return "/v1/videos"
		}
		return "/v1/chat/completions"
	case Gemini:
		return "/v1beta/models/{model}:generateContent"
	default:
		return ""
	}
}

// AuthHeader reports the header name and scheme a dialect's credential is carried on.
func AuthHeader(d Dialect) (name string, scheme AuthScheme) {
	switch d.Family() {
	case Claude:
		return "x-api-key", SchemeHeader
	case OpenAI:
		return "Authorization", SchemeBearer
	case Gemini:
		return "x-goog-api-key", SchemeHeader
	default:
		return "", ""
	}
}

// Detect recognizes the dialect of an incoming request from its headers, path, and (for CLI
// promotion) User-Agent, per §4.1. It returns the extracted API key alongside the dialect.
func Detect(header http.Header, path string) (Dialect, string, error) {
	dialect, key, err := detectBase(header, path)
	if err != nil {
		return "", "", err
	}
	if isCLIUserAgent(header.Get("User-Agent")) {
		dialect = promoteToCLI(dialect)
	}
	return dialect, key, nil
}

func detectBase(header http.Header, path string) (Dialect, string, error) {
	if apiKey := header.Get("x-api-key"); apiKey != "" && header.Get("anthropic-version") != "" &&
		strings.Contains(path, "/v1/messages") {
		return ClaudeChat, apiKey, nil
	}

	if auth := header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") &&
		(strings.Contains(path, "/v1/chat/completions") || strings.Contains(path, "/v1/completions")) {
		return OpenAIChat, strings.TrimPrefix(auth, "Bearer "), nil
	}

	if apiKey := header.Get("x-goog-api-key"); apiKey != "" {
		return GeminiChat, apiKey, nil
	}

	return "", "", errors.New("auth missing: no recognizable dialect credential in request")
}

// DetectWithQuery extends Detect with the request's query string, for Gemini's `?key=` auth
// convention, which an http.Header alone cannot carry.
func DetectWithQuery(header http.Header, path, rawQuery string) (Dialect, string, error) {
	if dialect, key, err := detectBase(header, path); err == nil {
		if isCLIUserAgent(header.Get("User-Agent")) {
			dialect = promoteToCLI(dialect)
		}
		return dialect, key, nil
	}
	if key := queryParam(rawQuery, "key"); key != "" {
		dialect := GeminiChat
		if isCLIUserAgent(header.Get("User-Agent")) {
			dialect = promoteToCLI(dialect)
		}
		return dialect, key, nil
	}
	return "", "", errors.New("auth missing: no recognizable dialect credential in request")
}

func queryParam(rawQuery, name string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1]
		}
	}
	return ""
}

func isCLIUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, token := range cliUserAgentTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return false
}

func promoteToCLI(d Dialect) Dialect {
	switch d {
	case ClaudeChat:
		return ClaudeCli
	case OpenAIChat:
		return OpenAICli
	case GeminiChat:
		return GeminiCli
	default:
		return d
	}
}
