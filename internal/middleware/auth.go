package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ecolocal/eco-api/internal/pkg/jwt"
	"github.com/ecolocal/eco-api/internal/pkg/response"
)

type contextKey string

const (
	ActorRefKey    contextKey = "actor_ref"
	RoleKey        contextKey = "role"
	BusinessRefKey contextKey = "business_ref"
)

// Auth returns middleware that validates JWT
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, jwt.ErrExpiredToken) {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := WithIdentity(r.Context(), claims.ActorRef, claims.Role, claims.BusinessRef)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, actorRef, role, businessRef string) context.Context {
	ctx = context.WithValue(ctx, ActorRefKey, actorRef)
	ctx = context.WithValue(ctx, RoleKey, role)
	return context.WithValue(ctx, BusinessRefKey, businessRef)
}

// GetActorRef extracts the caller's actor reference from context
func GetActorRef(ctx context.Context) string {
	if ref, ok := ctx.Value(ActorRefKey).(string); ok {
		return ref
	}
	return ""
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// GetBusinessRef extracts the business a business-role caller acts for
func GetBusinessRef(ctx context.Context) string {
	if ref, ok := ctx.Value(BusinessRefKey).(string); ok {
		return ref
	}
	return ""
}

// IsAdmin reports an admin caller
func IsAdmin(ctx context.Context) bool {
	return GetRole(ctx) == jwt.RoleAdmin
}

// RequireRole returns middleware that checks user role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetRole(r.Context())

			for _, role := range roles {
				if userRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireBusiness requires a business caller (or admin)
func RequireBusiness() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleBusiness, jwt.RoleAdmin)
}

// RequireAdmin returns middleware that requires admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleAdmin)
}
