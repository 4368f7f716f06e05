package service

import (
	"context"

	"github.com/oauthkit/spa-auth-service/internal/domain"
)

// IdentityAuthenticator verifies primary credentials. A nil user with a nil
// error means the credentials did not match; errors are reserved for store
// failures.
type IdentityAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

// SessionFlows is the surface the HTTP handlers program against.
type SessionFlows interface {
	Login(ctx context.Context, req LoginRequest) (*AuthResult, error)
	Refresh(ctx context.Context, signedCookie, clientID string) (*AuthResult, error)
	Logoff(ctx context.Context, req LogoffRequest) error
	LogoffEverywhere(ctx context.Context, req LoginRequest) error
}
