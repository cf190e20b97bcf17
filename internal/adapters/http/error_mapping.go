package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers with the status mapped from err. Server-side
// failures are logged; their details stay out of the response body.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	status := mapErrorToHTTPStatus(err)
	body := map[string]any{"error": err.Error()}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.ErrorContext(r.Context(), "request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		body["error"] = http.StatusText(status)
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
