package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
)

// TokenVerifier authorizes protected-resource requests by checking an opaque
// access token against the store. Known-bad values hit the deny cache first
// so revoked or garbage tokens do not hammer the database.
type TokenVerifier struct {
	tokens    repository.TokenRepository
	users     repository.UserRepository
	denyCache TokenDenyCache
	denyTTL   time.Duration
}

func NewTokenVerifier(tokens repository.TokenRepository, users repository.UserRepository, denyCache TokenDenyCache, denyTTL time.Duration) *TokenVerifier {
	if denyCache == nil {
		denyCache = NewNoopTokenDenyCache()
	}
	if denyTTL <= 0 {
		denyTTL = time.Minute
	}
	return &TokenVerifier{tokens: tokens, users: users, denyCache: denyCache, denyTTL: denyTTL}
}

func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*domain.AccessToken, *domain.User, error) {
	if raw == "" {
		return nil, nil, ErrAuthenticationFailed
	}
	if denied, err := v.denyCache.Contains(ctx, raw); err == nil && denied {
		return nil, nil, ErrAuthenticationFailed
	}
	access, err := v.tokens.FindAccessTokenByValue(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrAccessTokenNotFound) {
			_ = v.denyCache.Add(ctx, raw, v.denyTTL)
			return nil, nil, ErrAuthenticationFailed
		}
		return nil, nil, fmt.Errorf("verify access token: %w", err)
	}
	if access.Expired(time.Now().UTC()) {
		_ = v.denyCache.Add(ctx, raw, v.denyTTL)
		return nil, nil, ErrAuthenticationFailed
	}
	user, err := v.users.FindByID(ctx, access.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrAuthenticationFailed
		}
		return nil, nil, fmt.Errorf("verify access token: load user: %w", err)
	}
	return access, user, nil
}
