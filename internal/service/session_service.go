package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

type LogoffRequest struct {
	// SignedCookie is the raw transport-cookie value, possibly empty.
	SignedCookie string
	ClientID     string
}

type UserView struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthResult is what login and refresh hand back to the transport layer. The
// refresh token travels only in the cookie, never in the body.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         UserView
}

// SessionService orchestrates the four session flows and owns the cookie
// codec on the consume side. Cookie emission stays with the handlers.
type SessionService struct {
	authenticator IdentityAuthenticator
	applications  repository.ApplicationRepository
	users         repository.UserRepository
	issuer        *TokenIssuer
	rotator       *RefreshRotator
	revoker       *RevocationManager
	codec         *security.CookieCodec
	denyCache     TokenDenyCache
	abuseGuard    AuthAbuseGuard
}

func NewSessionService(
	authenticator IdentityAuthenticator,
	applications repository.ApplicationRepository,
	users repository.UserRepository,
	issuer *TokenIssuer,
	rotator *RefreshRotator,
	revoker *RevocationManager,
	codec *security.CookieCodec,
	denyCache TokenDenyCache,
	abuseGuard AuthAbuseGuard,
) *SessionService {
	if denyCache == nil {
		denyCache = NewNoopTokenDenyCache()
	}
	if abuseGuard == nil {
		abuseGuard = NoopAuthAbuseGuard{}
	}
	return &SessionService{
		authenticator: authenticator,
		applications:  applications,
		users:         users,
		issuer:        issuer,
		rotator:       rotator,
		revoker:       revoker,
		codec:         codec,
		denyCache:     denyCache,
		abuseGuard:    abuseGuard,
	}
}

func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	user, app, err := s.authenticateRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	access, refresh, err := s.issuer.Issue(ctx, user, app)
	if err != nil {
		return nil, fmt.Errorf("login: issue tokens: %w", err)
	}
	return &AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		User:         UserView{Username: user.Username, Email: user.Email},
	}, nil
}

func (s *SessionService) Refresh(ctx context.Context, signedCookie, clientID string) (*AuthResult, error) {
	v := newValidationError()
	v.require("client_id", clientID)
	if err := v.orNil(); err != nil {
		return nil, err
	}
	token, err := s.codec.Decode(signedCookie)
	if err != nil {
		// Indistinguishable from an absent token on purpose.
		return nil, ErrAuthenticationFailed
	}
	access, refresh, err := s.rotator.Rotate(ctx, token, clientID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, refresh.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: load user: %w", err)
	}
	return &AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		User:         UserView{Username: user.Username, Email: user.Email},
	}, nil
}

// Logoff is best-effort: an unreadable cookie or an unknown token still
// yields success so the client always ends up logged out.
func (s *SessionService) Logoff(ctx context.Context, req LogoffRequest) error {
	if req.SignedCookie == "" || req.ClientID == "" {
		return nil
	}
	token, err := s.codec.Decode(req.SignedCookie)
	if err != nil {
		return nil
	}
	return s.revoker.RevokeOne(ctx, token, req.ClientID)
}

func (s *SessionService) LogoffEverywhere(ctx context.Context, req LoginRequest) error {
	user, _, err := s.authenticateRequest(ctx, req)
	if err != nil {
		return err
	}
	if err := s.revoker.RevokeAll(ctx, user.ID, req.ClientID); err != nil {
		return err
	}
	_ = s.denyCache.Flush(ctx)
	return nil
}

func (s *SessionService) authenticateRequest(ctx context.Context, req LoginRequest) (*domain.User, *domain.Application, error) {
	v := newValidationError()
	v.require("username", req.Username)
	v.require("password", req.Password)
	v.require("client_id", req.ClientID)
	if err := v.orNil(); err != nil {
		return nil, nil, err
	}

	if cooldown, err := s.abuseGuard.Check(ctx, AuthAbuseScopeLogin, req.Username, clientIP(ctx)); err == nil && cooldown > 0 {
		return nil, nil, ErrAuthenticationFailed
	}

	user, err := s.authenticator.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("authenticate: %w", err)
	}
	if user == nil {
		_, _ = s.abuseGuard.RegisterFailure(ctx, AuthAbuseScopeLogin, req.Username, clientIP(ctx))
		return nil, nil, ErrAuthenticationFailed
	}
	app, err := s.applications.FindByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrApplicationNotFound) {
			// Unknown clients look exactly like bad credentials.
			return nil, nil, ErrAuthenticationFailed
		}
		return nil, nil, fmt.Errorf("lookup application: %w", err)
	}
	_ = s.abuseGuard.Reset(ctx, AuthAbuseScopeLogin, req.Username, clientIP(ctx))
	return user, app, nil
}

type ctxKey string

const clientIPKey ctxKey = "client_ip"

// WithClientIP stores the caller's remote IP for abuse accounting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
