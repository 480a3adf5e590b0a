package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/gateway/relay/format"
	relaymodel "github.com/relaymesh/gateway/relay/model"
)

// writeError renders a failure in the wire shape of the client's own dialect (§7: "wire-format-
// correct error bodies in the dialect of the original request"), so a client never has to branch
// on which upstream vendor actually rejected it.
func writeError(c *gin.Context, dialect format.Dialect, statusCode int, category, message string) {
	switch dialect.Family() {
	case format.Claude:
		c.JSON(statusCode, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    category,
				"message": message,
			},
		})
	case format.Gemini:
		c.JSON(statusCode, gin.H{
			"error": gin.H{
				"code":    statusCode,
				"message": message,
				"status":  geminiStatus(statusCode),
			},
		})
	default: // OpenAI and anything else: one_api's long-standing OpenAI-compatible error envelope.
		c.JSON(statusCode, gin.H{
			"error": relaymodel.Error{
				Message: message,
				Type:    category,
				Code:    category,
			},
		})
	}
}

func geminiStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		if statusCode >= 500 {
			return "INTERNAL"
		}
		return "UNKNOWN"
	}
}
