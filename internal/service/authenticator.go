package service

import (
	"context"
	"errors"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
)

// LocalAuthenticator checks credentials against the user store. Unknown
// usernames and wrong passwords are indistinguishable to callers.
type LocalAuthenticator struct {
	users repository.UserRepository
}

func NewLocalAuthenticator(users repository.UserRepository) *LocalAuthenticator {
	return &LocalAuthenticator{users: users}
}

func (a *LocalAuthenticator) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !security.VerifyPassword(user.PasswordHash, password) {
		return nil, nil
	}
	return user, nil
}
