package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Variant selects which of the two deployment profiles the session flows run
// under. The profiles differ only in how logoff is authorized and where the
// client_id for logoff comes from; everything else is shared.
type Variant string

const (
	// VariantSPA reads client_id from the request body and accepts anonymous
	// best-effort logoff.
	VariantSPA Variant = "spa"
	// VariantSession requires a valid access token for logoff and derives the
	// client_id from that token's application.
	VariantSession Variant = "session"
)

type Config struct {
	Environment string
	HTTPAddr    string
	RoutePrefix string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// RotationWindow bounds how long after issuance a refresh token may still
	// be used for rotation. Zero means "follow AccessTokenTTL", which is the
	// historical behavior.
	RotationWindow time.Duration

	CookieName       string
	CookiePath       string
	CookieSigningKey string
	CookieSalt       string

	AuthVariant Variant

	AuthRateLimitRPM int
	APIRateLimitRPM  int
	BodyLimitBytes   int64

	CORSOrigins []string

	OTELEnabled               bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELHTTPEnabled           bool

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, with an optional .env file
// merged in first. Defaults match the historical deployment values.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:               getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		RoutePrefix:               getEnv("ROUTE_PREFIX", "/auth"),
		DBDriver:                  getEnv("DB_DRIVER", "sqlite"),
		DBDSN:                     getEnv("DB_DSN", "file:spa-auth.db?cache=shared"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		CookieName:                getEnv("REFRESH_COOKIE_NAME", "refresh_token"),
		CookiePath:                getEnv("REFRESH_COOKIE_PATH", "/auth"),
		CookieSigningKey:          os.Getenv("COOKIE_SIGNING_KEY"),
		CookieSalt:                getEnv("COOKIE_SIGNING_SALT", "token_cookie_salt"),
		AuthVariant:               Variant(strings.ToLower(getEnv("AUTH_VARIANT", string(VariantSPA)))),
		OTELEnabled:               getBool("OTEL_ENABLED", false),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "spa-auth-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELHTTPEnabled:           getBool("OTEL_HTTP_ENABLED", false),
		CORSOrigins:               getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AuthRateLimitRPM:          getInt("AUTH_RATE_LIMIT_RPM", 60),
		APIRateLimitRPM:           getInt("API_RATE_LIMIT_RPM", 600),
		BodyLimitBytes:            int64(getInt("BODY_LIMIT_BYTES", 1<<20)),
		OTELMetricsExportInterval: getSeconds("OTEL_METRICS_EXPORT_INTERVAL_SECONDS", 30*time.Second),
		AccessTokenTTL:            getSeconds("ACCESS_TOKEN_EXPIRE_SECONDS", 300*time.Second),
		RefreshTokenTTL:           getSeconds("REFRESH_TOKEN_EXPIRE_SECONDS", 36000*time.Second),
		RotationWindow:            getSeconds("REFRESH_ROTATION_WINDOW_SECONDS", 0),
		ShutdownTimeout:           getSeconds("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
	}

	if cfg.RotationWindow <= 0 {
		cfg.RotationWindow = cfg.AccessTokenTTL
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("validate config: ACCESS_TOKEN_EXPIRE_SECONDS must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("validate config: REFRESH_TOKEN_EXPIRE_SECONDS must be positive")
	}
	if c.CookieName == "" {
		return fmt.Errorf("validate config: REFRESH_COOKIE_NAME must not be empty")
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		return fmt.Errorf("validate config: REFRESH_COOKIE_PATH must start with /")
	}
	switch c.AuthVariant {
	case VariantSPA, VariantSession:
	default:
		return fmt.Errorf("validate config: AUTH_VARIANT must be %q or %q", VariantSPA, VariantSession)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: DB_DRIVER must be sqlite or postgres")
	}
	if c.CookieSigningKey == "" {
		if c.Production() {
			return fmt.Errorf("validate config: COOKIE_SIGNING_KEY is required outside development")
		}
		c.CookieSigningKey = "development-only-signing-key"
	}
	return nil
}

func (c *Config) Production() bool {
	return normalizeConfigProfile(c.Environment) == "production"
}

// EffectiveRotationWindow is the rolling window inside which a refresh token
// remains usable for rotation.
func (c *Config) EffectiveRotationWindow() time.Duration {
	if c.RotationWindow > 0 {
		return c.RotationWindow
	}
	return c.AccessTokenTTL
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func getList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
