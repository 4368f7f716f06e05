package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
)

// RefreshRotator is the rotation state machine. A refresh token observed here
// is in exactly one of four states: absent, outside the rolling window,
// revoked, or live. Only a live token transitions; the transition revokes the
// previously bound access token and rebinds the same refresh token to a fresh
// one, atomically.
type RefreshRotator struct {
	tokens         repository.TokenRepository
	issuer         *TokenIssuer
	rotationWindow time.Duration
}

func NewRefreshRotator(tokens repository.TokenRepository, issuer *TokenIssuer, rotationWindow time.Duration) *RefreshRotator {
	return &RefreshRotator{tokens: tokens, issuer: issuer, rotationWindow: rotationWindow}
}

// Rotate validates token value + client binding, retires the bound access
// token and returns the replacement pair. The refresh token value itself is
// unchanged; callers re-issue the same cookie with a fresh expiry.
//
// Errors: ErrAuthenticationFailed for every invalid-token condition
// (including losing a concurrent rotation race), store errors otherwise.
func (r *RefreshRotator) Rotate(ctx context.Context, token, clientID string) (*domain.AccessToken, *domain.RefreshToken, error) {
	cutoff := time.Now().UTC().Add(-r.rotationWindow)
	refresh, err := r.tokens.FindRefreshToken(ctx, token, clientID, &cutoff)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			// Distinguish a lapsed window from an absent token so callers
			// can log the difference; the response is a uniform 401 either
			// way.
			if _, lookupErr := r.tokens.FindRefreshToken(ctx, token, clientID, nil); lookupErr == nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrRotationWindowExpired)
			}
			return nil, nil, ErrAuthenticationFailed
		}
		return nil, nil, fmt.Errorf("rotate: lookup refresh token: %w", err)
	}

	next, err := r.issuer.NewAccessToken(refresh.UserID, refresh.ApplicationID)
	if err != nil {
		return nil, nil, fmt.Errorf("rotate: mint access token: %w", err)
	}
	rotated, err := r.tokens.RotateAccessToken(ctx, refresh.ID, refresh.AccessTokenID, next)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRotationConflict),
			errors.Is(err, repository.ErrRefreshTokenNotFound):
			// A concurrent rotation or revocation won the race. The loser
			// gets a clean failure, never a second live access token.
			return nil, nil, ErrAuthenticationFailed
		default:
			return nil, nil, fmt.Errorf("rotate: rebind access token: %w", err)
		}
	}
	return next, rotated, nil
}
