package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/http/handler"
	"github.com/oauthkit/spa-auth-service/internal/http/middleware"
	"github.com/oauthkit/spa-auth-service/internal/http/response"
	"github.com/oauthkit/spa-auth-service/internal/service"
)

type Dependencies struct {
	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
	TokenVerifier *service.TokenVerifier

	// RoutePrefix mounts the session flows; empty means the configured
	// default of /auth.
	RoutePrefix string
	Variant     config.Variant

	CORSOrigins      []string
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	BodyLimitBytes   int64

	// AuthRateLimiter overrides the default in-process limiter on the
	// session flows, e.g. with a redis-backed one.
	AuthRateLimiter func(http.Handler) http.Handler

	// Readiness reports dependency health for /health/ready.
	Readiness func(r *http.Request) error

	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	bodyLimit := dep.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}
	r.Use(middleware.BodyLimit(bodyLimit))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	r.NotFound(middleware.NotFound)

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	}
	requireAuth := middleware.AuthMiddleware(dep.TokenVerifier)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness != nil {
			if err := dep.Readiness(r); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	prefix := dep.RoutePrefix
	if prefix == "" {
		prefix = "/auth"
	}
	r.Route(prefix, func(r chi.Router) {
		r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
		if dep.Variant == config.VariantSession {
			r.With(requireAuth, authLimiter).Post("/logoff", dep.AuthHandler.Logoff)
		} else {
			r.With(authLimiter).Post("/logoff", dep.AuthHandler.Logoff)
		}
		r.With(authLimiter).Post("/logoff-everywhere", dep.AuthHandler.LogoffEverywhere)
	})

	r.With(requireAuth).Get("/me", dep.UserHandler.Me)

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
