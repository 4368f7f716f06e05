package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/oauthkit/spa-auth-service/internal/app"
	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/http/handler"
	"github.com/oauthkit/spa-auth-service/internal/http/middleware"
	"github.com/oauthkit/spa-auth-service/internal/http/router"
	"github.com/oauthkit/spa-auth-service/internal/observability"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
	"github.com/oauthkit/spa-auth-service/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "spa-auth",
		Short:         "Cookie-transported refresh token authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newSeedCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			logger := runtime.Logger

			db, err := repository.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			var redisClient *redis.Client
			if cfg.RedisAddr != "" {
				redisClient = redis.NewClient(&redis.Options{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
				})
				defer redisClient.Close()
			}

			users := repository.NewUserRepository(db)
			apps := repository.NewApplicationRepository(db)
			tokens := repository.NewTokenRepository(db)

			codec := security.NewCookieCodec(
				cfg.CookieName, cfg.CookiePath,
				cfg.CookieSigningKey, cfg.CookieSalt,
				cfg.RefreshTokenTTL, cfg.Production(),
			)
			issuer := service.NewTokenIssuer(tokens, cfg.AccessTokenTTL)
			rotator := service.NewRefreshRotator(tokens, issuer, cfg.EffectiveRotationWindow())
			revoker := service.NewRevocationManager(tokens)

			var denyCache service.TokenDenyCache
			var abuseGuard service.AuthAbuseGuard
			var authLimiter func(http.Handler) http.Handler
			if redisClient != nil {
				denyCache = service.NewRedisTokenDenyCache(redisClient, "")
				abuseGuard = service.NewRedisAuthAbuseGuard(redisClient, "", service.DefaultAuthAbusePolicy())
				authLimiter = middleware.NewDistributedRateLimiter(
					middleware.NewRedisLimiter(redisClient, ""),
					cfg.AuthRateLimitRPM, time.Minute,
					middleware.FailOpen, "auth",
				).Middleware()
			}

			sessions := service.NewSessionService(
				service.NewLocalAuthenticator(users),
				apps, users, issuer, rotator, revoker, codec,
				denyCache, abuseGuard,
			)
			verifier := service.NewTokenVerifier(tokens, users, denyCache, time.Minute)

			h := router.NewRouter(router.Dependencies{
				AuthHandler:      handler.NewAuthHandler(sessions, apps, codec, cfg),
				UserHandler:      handler.NewUserHandler(),
				TokenVerifier:    verifier,
				RoutePrefix:      cfg.RoutePrefix,
				Variant:          cfg.AuthVariant,
				CORSOrigins:      cfg.CORSOrigins,
				AuthRateLimitRPM: cfg.AuthRateLimitRPM,
				APIRateLimitRPM:  cfg.APIRateLimitRPM,
				BodyLimitBytes:   cfg.BodyLimitBytes,
				AuthRateLimiter:  authLimiter,
				Readiness:        readinessProbe(db, redisClient),
				EnableOTelHTTP:   cfg.OTELHTTPEnabled,
			})

			server := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           h,
				ReadHeaderTimeout: 5 * time.Second,
			}
			return app.New(cfg, logger, server, runtime).Run(ctx)
		},
	}
}

func readinessProbe(db *gorm.DB, redisClient *redis.Client) func(r *http.Request) error {
	return func(r *http.Request) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(r.Context()); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(r.Context()).Err()
		}
		return nil
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := repository.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	var (
		username string
		password string
		email    string
		clientID string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a user and an OAuth application for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := repository.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			hash, err := security.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			if err := repository.NewUserRepository(db).Create(ctx, &domain.User{
				ID: uuid.NewString(), Username: username, Email: email, PasswordHash: hash,
			}); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			if err := repository.NewApplicationRepository(db).Create(ctx, &domain.Application{
				ID: uuid.NewString(), ClientID: clientID, Name: "seeded application",
				GrantType: domain.GrantPassword, ClientType: domain.ClientPublic,
			}); err != nil {
				return fmt.Errorf("create application: %w", err)
			}
			fmt.Printf("seeded user %q and application %q\n", username, clientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "dev", "username to create")
	cmd.Flags().StringVar(&password, "password", "devpassword", "password for the user")
	cmd.Flags().StringVar(&email, "email", "dev@example.com", "email for the user")
	cmd.Flags().StringVar(&clientID, "client-id", "dev-client", "OAuth application client_id")
	return cmd
}
