package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/http/handler"
	"github.com/oauthkit/spa-auth-service/internal/http/router"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
	"github.com/oauthkit/spa-auth-service/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testUsername = "test_user"
	testPassword = "123456"
	testClientA  = "client-a"
	testClientB  = "client-b"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type tokenData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

type authServer struct {
	baseURL string
	db      *gorm.DB
	cfg     *config.Config
}

// newAuthTestServer boots the full router over an in-memory database and
// returns a cookie-jar client, so tests exercise the same wire surface a
// browser would.
func newAuthTestServer(t *testing.T, mutate ...func(*config.Config)) (*authServer, *http.Client, func()) {
	t.Helper()
	cfg := &config.Config{
		Environment:      "test",
		RoutePrefix:      "/auth",
		AccessTokenTTL:   5 * time.Minute,
		RefreshTokenTTL:  10 * time.Hour,
		CookieName:       "refresh_token",
		CookiePath:       "/auth",
		CookieSigningKey: "integration-test-key",
		CookieSalt:       "token_cookie_salt",
		AuthVariant:      config.VariantSPA,
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
	}
	for _, m := range mutate {
		m(cfg)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	apps := repository.NewApplicationRepository(db)
	tokens := repository.NewTokenRepository(db)

	hash, err := security.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := users.Create(ctx, &domain.User{
		ID: uuid.NewString(), Username: testUsername, Email: "tester@example.com", PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, clientID := range []string{testClientA, testClientB} {
		if err := apps.Create(ctx, &domain.Application{
			ID: uuid.NewString(), ClientID: clientID, Name: clientID,
			GrantType: domain.GrantPassword, ClientType: domain.ClientPublic,
		}); err != nil {
			t.Fatalf("create application %s: %v", clientID, err)
		}
	}

	codec := security.NewCookieCodec(cfg.CookieName, cfg.CookiePath, cfg.CookieSigningKey, cfg.CookieSalt, cfg.RefreshTokenTTL, false)
	issuer := service.NewTokenIssuer(tokens, cfg.AccessTokenTTL)
	rotator := service.NewRefreshRotator(tokens, issuer, cfg.EffectiveRotationWindow())
	revoker := service.NewRevocationManager(tokens)
	denyCache := service.NewInMemoryTokenDenyCache()
	sessions := service.NewSessionService(service.NewLocalAuthenticator(users), apps, users, issuer, rotator, revoker, codec, denyCache, nil)
	verifier := service.NewTokenVerifier(tokens, users, denyCache, time.Minute)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(sessions, apps, codec, cfg),
		UserHandler:      handler.NewUserHandler(),
		TokenVerifier:    verifier,
		RoutePrefix:      cfg.RoutePrefix,
		Variant:          cfg.AuthVariant,
		CORSOrigins:      []string{"http://localhost"},
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
	})

	srv := httptest.NewServer(h)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}
	return &authServer{baseURL: srv.URL, db: db, cfg: cfg}, client, srv.Close
}

func newJarClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(buf)
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s: %v (%s)", target, err, raw)
		}
	}
	return resp, env
}

func (s *authServer) login(t *testing.T, client *http.Client, clientID string) tokenData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, s.baseURL+"/auth/login", map[string]string{
		"username": testUsername, "password": testPassword, "client_id": clientID,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d body=%s", resp.StatusCode, env.Data)
	}
	var data tokenData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data
}

func (s *authServer) refresh(t *testing.T, client *http.Client, clientID string) (*http.Response, tokenData) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, s.baseURL+"/auth/refresh", map[string]string{
		"client_id": clientID,
	}, nil)
	var data tokenData
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode refresh data: %v", err)
		}
	}
	return resp, data
}

func (s *authServer) me(t *testing.T, client *http.Client, accessToken string) *http.Response {
	t.Helper()
	resp, _ := doJSON(t, client, http.MethodGet, s.baseURL+"/me", nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	return resp
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/auth")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// backdateRefreshTokens ages every refresh token so the rolling rotation
// window lapses.
func (s *authServer) backdateRefreshTokens(t *testing.T, age time.Duration) {
	t.Helper()
	err := s.db.Model(&domain.RefreshToken{}).
		Where("revoked_at IS NULL").
		Update("created_at", time.Now().UTC().Add(-age)).Error
	if err != nil {
		t.Fatalf("backdate refresh tokens: %v", err)
	}
}
