package format

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// placeholderSignature is the sentinel value Claude-code emits on thinking blocks it never
// actually verified; a block carrying only this is treated as if it had no signature at all.
const placeholderSignature = "skip_thought_signature_validator"

// SanitizeClaudeCLIEnvelope applies §4.5.4 to a claude:cli request body: drop thinking /
// redacted_thinking blocks unless thinking is enabled/adaptive and the block carries a real
// signature, and optionally normalize every cache_control.ttl to a unified value to avoid
// behavioral fingerprinting across tenants.
func SanitizeClaudeCLIEnvelope(body []byte, normalizeCacheControl bool) ([]byte, error) {
	root := gjson.ParseBytes(body)
	thinkingEnabled := root.Get("thinking.type").String() == "enabled" || root.Get("thinking.type").String() == "adaptive"

	out := body
	messages := root.Get("messages").Array()
	for mi := len(messages) - 1; mi >= 0; mi-- {
		content := messages[mi].Get("content")
		if !content.IsArray() {
			continue
		}
		blocks := content.Array()
		for bi := len(blocks) - 1; bi >= 0; bi-- {
			block := blocks[bi]
			blockType := block.Get("type").String()
			if blockType != "thinking" && blockType != "redacted_thinking" {
				if normalizeCacheControl {
					out = normalizeBlockCacheControl(out, mi, bi, block)
				}
				continue
			}

			sig := block.Get("signature").String()
			keep := thinkingEnabled && sig != "" && sig != placeholderSignature
			if !keep {
				path := sjsonPath("messages", mi, "content") + "." + itoa(bi)
				var err error
				out, err = sjson.DeleteBytes(out, path)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func normalizeBlockCacheControl(body []byte, mi, bi int, block gjson.Result) []byte {
	cc := block.Get("cache_control")
	if !cc.Exists() {
		return body
	}
	basePath := sjsonPath("messages", mi, "content") + "." + itoa(bi) + ".cache_control"
	if cc.Get("type").String() != "ephemeral" {
		return body
	}
	ttl := cc.Get("ttl").String()
	var out []byte
	var err error
	switch ttl {
	case "1h":
		out, err = sjson.SetBytes(body, basePath+".ttl", "1h")
	default:
		out, err = sjson.DeleteBytes(body, basePath+".ttl")
	}
	if err != nil {
		return body
	}
	return out
}
