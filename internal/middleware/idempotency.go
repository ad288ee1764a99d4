package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/validator"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	IdempotencyKeyCtx contextKey = "idempotency_key"

	idempotencyKeyRule = "printascii,min=8,max=128"
)

// RequireIdempotencyKey rejects requests without a usable Idempotency-Key
// header and stores the key in the request context.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if err := validator.ValidateVar(key, idempotencyKeyRule); err != nil {
			response.ErrorWithDetails(w, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED",
				"Idempotency-Key header is required", map[string]string{
					IdempotencyHeader: "Must be 8-128 printable ASCII characters",
				})
			return
		}

		ctx := context.WithValue(r.Context(), IdempotencyKeyCtx, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdempotencyKey returns the key stored by RequireIdempotencyKey.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(IdempotencyKeyCtx).(string); ok {
		return key
	}
	return ""
}
