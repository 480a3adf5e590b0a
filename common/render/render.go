// Package render writes Server-Sent Events to a streaming client and flushes them immediately,
// so partial upstream output reaches the caller without buffering delay.
package render

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// StringData writes a single SSE frame. Callers are responsible for the "data: " prefix;
// StringData appends the terminating blank line ("\n\n") itself.
func StringData(c *gin.Context, data string) {
	c.Writer.Write([]byte(data + "\n\n"))
	c.Writer.Flush()
}

// ObjectData marshals obj to JSON and writes it as an SSE "data: " frame.
func ObjectData(c *gin.Context, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	StringData(c, "data: "+string(data))
	return nil
}
