package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/http/response"
	"github.com/oauthkit/spa-auth-service/internal/observability"
	"github.com/oauthkit/spa-auth-service/internal/service"
)

type contextKey string

const (
	userContextKey        contextKey = "auth_user"
	accessTokenContextKey contextKey = "auth_access_token"
)

// AuthMiddleware authorizes requests carrying an opaque bearer access token.
// The refresh cookie never authorizes anything here; only the Authorization
// header is consulted.
func AuthMiddleware(verifier *service.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.AuthFailure(w, r)
				return
			}
			access, user, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				outcome := "invalid"
				if !isAuthFailure(err) {
					outcome = "error"
				}
				observability.RecordAccessTokenValidation(r.Context(), outcome, "bearer")
				if outcome == "error" {
					response.Internal(w, r)
					return
				}
				response.AuthFailure(w, r)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", "bearer")
			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = context.WithValue(ctx, accessTokenContextKey, access)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func isAuthFailure(err error) bool {
	return errors.Is(err, service.ErrAuthenticationFailed)
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(*domain.User)
	return u, ok
}

func AccessTokenFromContext(ctx context.Context) (*domain.AccessToken, bool) {
	a, ok := ctx.Value(accessTokenContextKey).(*domain.AccessToken)
	return a, ok
}
