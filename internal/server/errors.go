package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/logging"
)

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.LimitExceeded:
		return http.StatusTooManyRequests
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Parse:
		return http.StatusUnprocessableEntity
	case apperr.Transient:
		return http.StatusBadGateway
	case apperr.QueueDelivery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fallbackMessages is shown when an error carries no user-facing message.
var fallbackMessages = map[apperr.Kind]string{
	apperr.Validation:    "invalid request",
	apperr.LimitExceeded: "message limit reached for this session",
	apperr.NotFound:      "not found",
	apperr.Parse:         "the document could not be read",
	apperr.Transient:     "an upstream service is unavailable, please retry",
	apperr.QueueDelivery: "the document could not be scheduled for indexing",
	apperr.Internal:      "internal error",
}

// writeError logs err and writes the classified JSON error body. Internal
// errors are logged at ERROR and never echo their cause to the client.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	log := logging.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.String("kind", string(kind)), slog.Any("error", err))
	}

	body := errorResponse{Message: fallbackMessages[apperr.Internal]}
	if kind != apperr.Internal {
		body.Message = apperr.Message(err, fallbackMessages[kind])
	}
	if kind == apperr.LimitExceeded {
		body.Hint = "reset"
	}
	writeJSON(ctx, w, status, body)
}
