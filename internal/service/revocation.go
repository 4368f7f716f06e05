package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/oauthkit/spa-auth-service/internal/repository"
)

// RevocationManager handles single-session and all-sessions revocation.
type RevocationManager struct {
	tokens repository.TokenRepository
}

func NewRevocationManager(tokens repository.TokenRepository) *RevocationManager {
	return &RevocationManager{tokens: tokens}
}

// RevokeOne retires the session behind one refresh token. Unlike rotation it
// ignores the rolling window: a token past its rotation cadence can still be
// logged off. Missing or already-revoked tokens are a no-op; only store
// failures propagate.
func (m *RevocationManager) RevokeOne(ctx context.Context, token, clientID string) error {
	refresh, err := m.tokens.FindRefreshToken(ctx, token, clientID, nil)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return fmt.Errorf("revoke one: lookup refresh token: %w", err)
	}
	if err := m.tokens.RevokeRefreshToken(ctx, refresh.ID); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			// Lost a race against another revocation. Same end state.
			return nil
		}
		return fmt.Errorf("revoke one: %w", err)
	}
	return nil
}

// RevokeAll retires every outstanding session for a user, scoped to one
// client when clientID is non-empty. Access-token deletion is always
// user-wide, which makes this strictly stronger than revoking each session
// in turn.
func (m *RevocationManager) RevokeAll(ctx context.Context, userID, clientID string) error {
	if err := m.tokens.RevokeAllForUser(ctx, userID, clientID); err != nil {
		return fmt.Errorf("revoke all: %w", err)
	}
	return nil
}
