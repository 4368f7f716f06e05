package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
)

func TestVerifyExpiredTokenIsDeniedAndCached(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	login := f.login(t)

	if err := f.db.Model(&domain.AccessToken{}).
		Where("token = ?", login.AccessToken).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("expire token: %v", err)
	}

	cache := NewInMemoryTokenDenyCache()
	verifier := NewTokenVerifier(f.tokens, repository.NewUserRepository(f.db), cache, time.Minute)
	if _, _, err := verifier.Verify(ctx, login.AccessToken); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure for expired token, got %v", err)
	}
	if denied, _ := cache.Contains(ctx, login.AccessToken); !denied {
		t.Fatal("expired token should land in the deny cache")
	}
}

func TestVerifyDenyCacheShortCircuits(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	login := f.login(t)

	cache := NewInMemoryTokenDenyCache()
	if err := cache.Add(ctx, login.AccessToken, time.Minute); err != nil {
		t.Fatalf("seed deny cache: %v", err)
	}
	// The token is still live in the store; a deny-cache hit wins anyway.
	verifier := NewTokenVerifier(f.tokens, repository.NewUserRepository(f.db), cache, time.Minute)
	if _, _, err := verifier.Verify(ctx, login.AccessToken); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected deny-cache hit to reject, got %v", err)
	}
}

func TestVerifyUnknownTokenPopulatesDenyCache(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	cache := NewInMemoryTokenDenyCache()
	verifier := NewTokenVerifier(f.tokens, repository.NewUserRepository(f.db), cache, time.Minute)
	if _, _, err := verifier.Verify(ctx, "no-such-token"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if denied, _ := cache.Contains(ctx, "no-such-token"); !denied {
		t.Fatal("unknown token should land in the deny cache")
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	f := newSessionFixture(t)
	if _, _, err := f.verifier.Verify(context.Background(), ""); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure for empty token, got %v", err)
	}
}

func TestVerifyReturnsBoundUser(t *testing.T) {
	f := newSessionFixture(t)
	login := f.login(t)

	access, user, err := f.verifier.Verify(context.Background(), login.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if access.UserID != f.user.ID || user.ID != f.user.ID {
		t.Fatalf("expected token bound to %s, got token.user=%s user=%s", f.user.ID, access.UserID, user.ID)
	}
}
