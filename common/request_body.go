package common

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/relaymesh/gateway/common/ctxkey"
)

// GetRequestBody reads the request body, caching it on the gin context under
// ctxkey.KeyRequestBody so every dialect-detection/conversion/logging step that needs the raw
// bytes can read it again without exhausting the underlying reader.
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if cached, ok := c.Get(ctxkey.KeyRequestBody); ok {
		if body, ok := cached.([]byte); ok {
			return body, nil
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Set(ctxkey.KeyRequestBody, body)
	return body, nil
}

// UnmarshalBodyReusable decodes the cached request body into v without consuming it, so later
// middleware (the Format Registry, the Executor) can still read the original bytes.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	body, err := GetRequestBody(c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "unmarshal request body")
	}
	return nil
}
