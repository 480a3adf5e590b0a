package helper

import (
	"fmt"

	gutils "github.com/Laisky/go-utils/v5"
)

// RequestIdKey is the gin context / response header key carrying the per-request id, matching
// ctxkey.RequestId so the two packages agree on the same context slot.
const RequestIdKey = "X-Gateway-Request-Id"

// GenRequestID mints a new time-sortable request id.
func GenRequestID() string {
	return gutils.UUID7()
}

// MessageWithRequestId appends the request id to an error message for client-facing responses,
// so a caller can correlate a support ticket back to the Usage Recorder / log trail.
func MessageWithRequestId(message, requestID string) string {
	if requestID == "" {
		return message
	}
	return fmt.Sprintf("%s (request id: %s)", message, requestID)
}
