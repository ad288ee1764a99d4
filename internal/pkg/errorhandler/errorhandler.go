package errorhandler

import (
	"context"
	"net/http"

	"github.com/ecolocal/eco-api/internal/pkg/logger"
	"github.com/ecolocal/eco-api/internal/pkg/response"
)

// Internal logs an unexpected failure and sends a generic 500 body.
// Internal error text never reaches the client.
func Internal(ctx context.Context, w http.ResponseWriter, op string, err error) {
	logger.FromContext(ctx).Error().
		Err(err).
		Str("operation", op).
		Msg("Request failed")

	response.InternalError(w)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}

// LogStoreError records a classified store failure (timeout, outage) that
// is answered with a retryable status rather than a 500.
func LogStoreError(ctx context.Context, op string, err error) {
	logger.FromContext(ctx).Warn().
		Err(err).
		Str("operation", op).
		Msg("Store unavailable")
}
