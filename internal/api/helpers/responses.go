package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/aegis-id/aegis/internal/autherr"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// RespondError writes an error response with the given status code and message.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// StatusForKind maps a domain error kind to its HTTP status.
func StatusForKind(kind autherr.Kind) int {
	switch kind {
	case autherr.KindInput:
		return http.StatusBadRequest
	case autherr.KindAuth:
		return http.StatusUnauthorized
	case autherr.KindForbidden:
		return http.StatusForbidden
	case autherr.KindNotFound:
		return http.StatusNotFound
	case autherr.KindConflict:
		return http.StatusConflict
	case autherr.KindLocked:
		return http.StatusLocked
	case autherr.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError serializes a tagged domain error. Internal errors are
// logged with their cause, shipped to the telemetry sink when one is wired,
// and surfaced as a generic message; business rejections stay quiet.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := autherr.KindOf(err)
	status := StatusForKind(kind)

	if status >= http.StatusInternalServerError || kind == autherr.KindDependency {
		slog.Error("request_failed", "path", r.URL.Path, "error", err)
		if !autherr.Quiet(err) {
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.CaptureException(err)
			}
		}
	}

	body := map[string]any{"error": autherr.MessageOf(err)}
	if until := autherr.LockedUntilOf(err); until != nil {
		body["lockedUntil"] = until
	}
	RespondJSON(w, status, body)
}
