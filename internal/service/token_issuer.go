package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
)

// TokenIssuer mints access+refresh pairs. The pair is persisted in one
// transaction with the refresh token already pointing at the new access
// token, so a half-created session is never durable.
type TokenIssuer struct {
	tokens    repository.TokenRepository
	accessTTL time.Duration
}

func NewTokenIssuer(tokens repository.TokenRepository, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{tokens: tokens, accessTTL: accessTTL}
}

func (i *TokenIssuer) Issue(ctx context.Context, user *domain.User, app *domain.Application) (*domain.AccessToken, *domain.RefreshToken, error) {
	access, err := i.NewAccessToken(user.ID, app.ID)
	if err != nil {
		return nil, nil, err
	}
	refreshValue, err := security.NewOpaqueToken()
	if err != nil {
		return nil, nil, err
	}
	refresh := &domain.RefreshToken{
		ID:            uuid.NewString(),
		Token:         refreshValue,
		UserID:        user.ID,
		ApplicationID: app.ID,
	}
	if err := i.tokens.CreateTokenPair(ctx, access, refresh); err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

// NewAccessToken builds an unpersisted access token record; rotation uses it
// to mint the replacement inside the repository transaction.
func (i *TokenIssuer) NewAccessToken(userID, applicationID string) (*domain.AccessToken, error) {
	value, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	return &domain.AccessToken{
		ID:            uuid.NewString(),
		Token:         value,
		UserID:        userID,
		ApplicationID: applicationID,
		Scope:         "",
		ExpiresAt:     time.Now().UTC().Add(i.accessTTL),
	}, nil
}
