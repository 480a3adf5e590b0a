package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// firstByteKey stores the wall-clock time of the first byte written to the client so the
// Stream Tracker can compute TTFB without touching the coordination or relational stores on
// the hot write path (TTFB must reflect wire time only).
const firstByteKey = "first_client_byte_at"

// TracingMiddleware wraps the response writer to capture the moment the first byte is
// flushed to the client, independent of when the Stream Tracker later reads it.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		writer := &tracingResponseWriter{ResponseWriter: c.Writer, context: c, firstWrite: true}
		c.Writer = writer
		c.Next()
	}
}

// FirstByteTime returns the timestamp of the first byte written to the client for this
// request, if any byte has been written yet.
func FirstByteTime(c *gin.Context) (time.Time, bool) {
	v, ok := c.Get(firstByteKey)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

type tracingResponseWriter struct {
	gin.ResponseWriter
	context    *gin.Context
	firstWrite bool
}

func (w *tracingResponseWriter) markFirstWrite() {
	if w.firstWrite {
		w.firstWrite = false
		w.context.Set(firstByteKey, time.Now())
	}
}

func (w *tracingResponseWriter) Write(data []byte) (int, error) {
	w.markFirstWrite()
	return w.ResponseWriter.Write(data)
}

func (w *tracingResponseWriter) WriteHeader(statusCode int) {
	w.markFirstWrite()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *tracingResponseWriter) WriteString(s string) (int, error) {
	w.markFirstWrite()
	return w.ResponseWriter.WriteString(s)
}
