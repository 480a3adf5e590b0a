package format

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// parseClaude reads the Claude Messages request shape into the normalized form.
func parseClaude(body []byte) normalizedRequest {
	root := gjson.ParseBytes(body)
	req := normalizedRequest{
		Model:     root.Get("model").String(),
		System:    root.Get("system").String(),
		MaxTokens: root.Get("max_tokens").Int(),
		Stream:    root.Get("stream").Bool(),
	}
	if t := getFloatPtr(root, "temperature"); t != nil {
		req.Temperature = t
	}
	for _, m := range root.Get("messages").Array() {
		msg := normalizedMessage{Role: m.Get("role").String()}
		content := m.Get("content")
		if content.IsArray() {
			for _, block := range content.Array() {
				if block.Get("type").String() == "text" || !block.Get("type").Exists() {
					msg.Text += block.Get("text").String()
				}
				if cc := block.Get("cache_control.type"); cc.Exists() {
					if ttl := block.Get("cache_control.ttl"); ttl.Exists() {
						msg.CacheControl = ttl.String()
					} else {
						msg.CacheControl = "ephemeral"
					}
				}
			}
		} else {
			msg.Text = content.String()
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range root.Get("tools").Array() {
		req.Tools = append(req.Tools, normalizedTool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  t.Get("input_schema"),
		})
	}
	return req
}

// buildClaude serializes the normalized form into a Claude Messages request body.
func buildClaude(req normalizedRequest) ([]byte, error) {
	body := []byte("{}")
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, v)
	}
	set("model", req.Model)
	if req.System != "" {
		set("system", req.System)
	}
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	} else {
		set("max_tokens", 4096)
	}
	if req.Temperature != nil {
		set("temperature", *req.Temperature)
	}
	set("stream", req.Stream)
	for i, m := range req.Messages {
		set(sjsonPath("messages", i, "role"), m.Role)
		block := map[string]any{"type": "text", "text": m.Text}
		if m.CacheControl != "" {
			cc := map[string]any{"type": "ephemeral"}
			if m.CacheControl == "1h" {
				cc["ttl"] = "1h"
			}
			block["cache_control"] = cc
		}
		set(sjsonPath("messages", i, "content"), []any{block})
	}
	for i, t := range req.Tools {
		set(sjsonPath("tools", i, "name"), t.Name)
		set(sjsonPath("tools", i, "description"), t.Description)
		if t.Parameters.Exists() {
			body, err = sjson.SetRawBytes(body, sjsonPath("tools", i, "input_schema"), []byte(t.Parameters.Raw))
		}
	}
	return body, err
}

// parseOpenAI reads an OpenAI chat/completions request into the normalized form. A side-channel
// field (sideChannelKey) restores any cache_control class a prior claude->openai conversion
// stashed, so converting back to Claude round-trips it (§8 round-trip law).
func parseOpenAI(body []byte) normalizedRequest {
	root := gjson.ParseBytes(body)
	req := normalizedRequest{
		Model:     root.Get("model").String(),
		MaxTokens: maxOf(root.Get("max_tokens").Int(), root.Get("max_completion_tokens").Int()),
		Stream:    root.Get("stream").Bool(),
	}
	if t := getFloatPtr(root, "temperature"); t != nil {
		req.Temperature = t
	}
	sideCache := root.Get(sideChannelKey).Array()
	nonSystemIdx := 0
	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		text := m.Get("content").String()
		if role == "system" {
			req.System = text
			continue
		}
		msg := normalizedMessage{Role: role, Text: text}
		if nonSystemIdx < len(sideCache) {
			msg.CacheControl = sideCache[nonSystemIdx].String()
		}
		nonSystemIdx++
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range root.Get("tools").Array() {
		fn := t.Get("function")
		req.Tools = append(req.Tools, normalizedTool{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  fn.Get("parameters"),
		})
	}
	return req
}

func buildOpenAI(req normalizedRequest) ([]byte, error) {
	body := []byte("{}")
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, v)
	}
	set("model", req.Model)
	set("stream", req.Stream)
	if req.Temperature != nil {
		set("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	}

	idx := 0
	if req.System != "" {
		set(sjsonPath("messages", idx, "role"), "system")
		set(sjsonPath("messages", idx, "content"), req.System)
		idx++
	}
	var cacheClasses []string
	for _, m := range req.Messages {
		set(sjsonPath("messages", idx, "role"), m.Role)
		set(sjsonPath("messages", idx, "content"), m.Text)
		idx++
		cacheClasses = append(cacheClasses, m.CacheControl)
	}
	if anyNonEmpty(cacheClasses) {
		set(sideChannelKey, cacheClasses)
	}
	for i, t := range req.Tools {
		set(sjsonPath("tools", i, "type"), "function")
		set(sjsonPath("tools", i, "function", "name"), t.Name)
		set(sjsonPath("tools", i, "function", "description"), t.Description)
		if t.Parameters.Exists() {
			body, err = sjson.SetRawBytes(body, sjsonPath("tools", i, "function", "parameters"), []byte(t.Parameters.Raw))
		}
	}
	return body, err
}

// parseGemini reads a Gemini generateContent request into the normalized form.
func parseGemini(body []byte) normalizedRequest {
	root := gjson.ParseBytes(body)
	req := normalizedRequest{
		Model:     root.Get("model").String(),
		System:    root.Get("systemInstruction.parts.0.text").String(),
		MaxTokens: root.Get("generationConfig.maxOutputTokens").Int(),
		Stream:    root.Get("stream").Bool(),
	}
	if t := getFloatPtr(root, "generationConfig.temperature"); t != nil {
		req.Temperature = t
	}
	sideCache := root.Get(sideChannelKey).Array()
	for i, c := range root.Get("contents").Array() {
		role := c.Get("role").String()
		if role == "model" {
			role = "assistant"
		}
		var text string
		for _, p := range c.Get("parts").Array() {
			text += p.Get("text").String()
		}
		msg := normalizedMessage{Role: role, Text: text}
		if i < len(sideCache) {
			msg.CacheControl = sideCache[i].String()
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range root.Get("tools").Array() {
		for _, fn := range t.Get("functionDeclarations").Array() {
			req.Tools = append(req.Tools, normalizedTool{
				Name:        fn.Get("name").String(),
				Description: fn.Get("description").String(),
				Parameters:  fn.Get("parameters"),
			})
		}
	}
	return req
}

func buildGemini(req normalizedRequest) ([]byte, error) {
	body := []byte("{}")
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, v)
	}
	set("model", req.Model)
	if req.System != "" {
		set("systemInstruction.parts.0.text", req.System)
	}
	if req.MaxTokens > 0 {
		set("generationConfig.maxOutputTokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		set("generationConfig.temperature", *req.Temperature)
	}

	var cacheClasses []string
	for i, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		set(sjsonPath("contents", i, "role"), role)
		set(sjsonPath("contents", i, "parts", 0, "text"), m.Text)
		cacheClasses = append(cacheClasses, m.CacheControl)
	}
	if anyNonEmpty(cacheClasses) {
		set(sideChannelKey, cacheClasses)
	}
	for i, t := range req.Tools {
		set(sjsonPath("tools", 0, "functionDeclarations", i, "name"), t.Name)
		set(sjsonPath("tools", 0, "functionDeclarations", i, "description"), t.Description)
		if t.Parameters.Exists() {
			body, err = sjson.SetRawBytes(body, sjsonPath("tools", 0, "functionDeclarations", i, "parameters"), []byte(t.Parameters.Raw))
		}
	}
	return body, err
}

func sjsonPath(base string, index int, rest ...string) string {
	path := base + "." + itoa(index)
	for _, r := range rest {
		path += "." + r
	}
	return path
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	p := len(buf)
	for i > 0 {
		p--
		buf[p] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		p--
		buf[p] = '-'
	}
	return string(buf[p:])
}

func maxOf(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func anyNonEmpty(ss []string) bool {
	for _, s := range ss {
		if s != "" {
			return true
		}
	}
	return false
}
