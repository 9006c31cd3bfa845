package odata

import (
	"net/http"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// statusError maps an HTTP status to the structured error taxonomy.
// 401/403 are auth refusals, 404 is not-found, 408/429/5xx are retryable
// transport failures, and remaining 4xx are terminal transport failures.
func statusError(status int, method, path string, body []byte) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrAuth, "%s %s refused (%d): %s", method, path, status, msg).
			WithHTTPStatus(status)
	case status == http.StatusNotFound:
		return types.NewError(types.ErrNotFound, "%s %s: not found", method, path).
			WithHTTPStatus(status)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return types.NewError(types.ErrTransport, "%s %s failed (%d): %s", method, path, status, msg).
			WithHTTPStatus(status)
	default:
		e := types.NewError(types.ErrTransport, "%s %s failed (%d): %s", method, path, status, msg).
			WithHTTPStatus(status)
		e.Retryable = false
		return e
	}
}
