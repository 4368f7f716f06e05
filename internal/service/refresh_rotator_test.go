package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
)

// memTokenStore is a mutex-guarded in-memory TokenRepository. It gives the
// rotation race test deterministic compare-and-swap semantics without a
// database in the loop.
type memTokenStore struct {
	mu       sync.Mutex
	access   map[string]*domain.AccessToken  // by id
	refresh  map[string]*domain.RefreshToken // by id
	clientID string
}

func newMemTokenStore(clientID string) *memTokenStore {
	return &memTokenStore{
		access:   make(map[string]*domain.AccessToken),
		refresh:  make(map[string]*domain.RefreshToken),
		clientID: clientID,
	}
}

func (s *memTokenStore) CreateTokenPair(ctx context.Context, access *domain.AccessToken, refresh *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, r := *access, *refresh
	r.AccessTokenID = &a.ID
	s.access[a.ID] = &a
	s.refresh[r.ID] = &r
	return nil
}

func (s *memTokenStore) FindRefreshToken(ctx context.Context, token, clientID string, notCreatedBefore *time.Time) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clientID != s.clientID {
		return nil, repository.ErrRefreshTokenNotFound
	}
	for _, rt := range s.refresh {
		if rt.Token != token || rt.Revoked() {
			continue
		}
		if notCreatedBefore != nil && !rt.CreatedAt.After(*notCreatedBefore) {
			continue
		}
		cp := *rt
		return &cp, nil
	}
	return nil, repository.ErrRefreshTokenNotFound
}

func (s *memTokenStore) RotateAccessToken(ctx context.Context, refreshTokenID string, expectedAccessTokenID *string, newAccess *domain.AccessToken) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refresh[refreshTokenID]
	if !ok || rt.Revoked() {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if !sameID(rt.AccessTokenID, expectedAccessTokenID) {
		return nil, repository.ErrRotationConflict
	}
	if rt.AccessTokenID != nil {
		delete(s.access, *rt.AccessTokenID)
	}
	a := *newAccess
	s.access[a.ID] = &a
	rt.AccessTokenID = &a.ID
	cp := *rt
	return &cp, nil
}

func (s *memTokenStore) RevokeRefreshToken(ctx context.Context, refreshTokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refresh[refreshTokenID]
	if !ok || rt.Revoked() {
		return repository.ErrRefreshTokenNotFound
	}
	if rt.AccessTokenID != nil {
		delete(s.access, *rt.AccessTokenID)
	}
	now := time.Now().UTC()
	rt.RevokedAt = &now
	rt.AccessTokenID = nil
	return nil
}

func (s *memTokenStore) RevokeAllForUser(ctx context.Context, userID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, rt := range s.refresh {
		if rt.UserID == userID && !rt.Revoked() {
			rt.RevokedAt = &now
			rt.AccessTokenID = nil
		}
	}
	for id, at := range s.access {
		if at.UserID == userID {
			delete(s.access, id)
		}
	}
	return nil
}

func (s *memTokenStore) FindAccessTokenByValue(ctx context.Context, token string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, at := range s.access {
		if at.Token == token {
			cp := *at
			return &cp, nil
		}
	}
	return nil, repository.ErrAccessTokenNotFound
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *memTokenStore) liveAccessTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := make([]string, 0, len(s.access))
	for _, at := range s.access {
		vals = append(vals, at.Token)
	}
	return vals
}

func seedPair(t *testing.T, store *memTokenStore, userID, appID string) (accessValue, refreshValue string) {
	t.Helper()
	issuer := NewTokenIssuer(store, 5*time.Minute)
	access, err := issuer.NewAccessToken(userID, appID)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	refreshTok, err := security.NewOpaqueToken()
	if err != nil {
		t.Fatalf("mint refresh token: %v", err)
	}
	refresh := &domain.RefreshToken{
		ID: uuid.NewString(), Token: refreshTok,
		UserID: userID, ApplicationID: appID,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateTokenPair(context.Background(), access, refresh); err != nil {
		t.Fatalf("create pair: %v", err)
	}
	return access.Token, refresh.Token
}

func TestRotateConcurrentAttemptsNeverLeaveTwoLiveTokens(t *testing.T) {
	const attempts = 16
	store := newMemTokenStore("client-a")
	userID, appID := uuid.NewString(), uuid.NewString()
	_, refreshValue := seedPair(t, store, userID, appID)

	rotator := NewRefreshRotator(store, NewTokenIssuer(store, 5*time.Minute), 5*time.Minute)

	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			access, refresh, err := rotator.Rotate(context.Background(), refreshValue, "client-a")
			if err != nil {
				if !errors.Is(err, ErrAuthenticationFailed) {
					t.Errorf("loser must get a clean failure, got %v", err)
				}
				return
			}
			if refresh.Token != refreshValue {
				t.Errorf("rotation changed the refresh token value")
			}
			mu.Lock()
			winners = append(winners, access.Token)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if len(winners) == 0 {
		t.Fatal("expected at least one rotation to succeed")
	}
	live := store.liveAccessTokens()
	if len(live) != 1 {
		t.Fatalf("expected exactly one live access token after the race, got %d", len(live))
	}
	surviving := 0
	for _, w := range winners {
		if w == live[0] {
			surviving++
		}
	}
	if surviving != 1 {
		t.Fatalf("the surviving access token must be one of the winners, matched %d", surviving)
	}
}

func TestRotateRevokedTokenFailsCleanly(t *testing.T) {
	store := newMemTokenStore("client-a")
	userID, appID := uuid.NewString(), uuid.NewString()
	_, refreshValue := seedPair(t, store, userID, appID)

	rotator := NewRefreshRotator(store, NewTokenIssuer(store, 5*time.Minute), 5*time.Minute)
	revoker := NewRevocationManager(store)
	if err := revoker.RevokeOne(context.Background(), refreshValue, "client-a"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := rotator.Rotate(context.Background(), refreshValue, "client-a"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure for revoked token, got %v", err)
	}
}

func TestRotateUnknownTokenIsNotWindowExpired(t *testing.T) {
	store := newMemTokenStore("client-a")
	rotator := NewRefreshRotator(store, NewTokenIssuer(store, 5*time.Minute), 5*time.Minute)

	_, _, err := rotator.Rotate(context.Background(), "no-such-token", "client-a")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if errors.Is(err, ErrRotationWindowExpired) {
		t.Fatalf("absent token must not classify as window expiry")
	}
}
