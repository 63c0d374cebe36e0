package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the API server.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	NATSURL       string

	// RootEmail/RootID identify the creator account that is permanently
	// bound to god/Poseidon.
	RootEmail string
	RootID    string

	AuthSecret   string
	TokenTTL     time.Duration
	OIDCProvider string
	OIDCIssuer   string
	OIDCClientID string
	OIDCSecret   string
	OIDCRedirect string
	FrontendURL  string

	// StorageDriver selects the gallery bucket: "memory" or "s3".
	StorageDriver   string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string

	FallDuration       time.Duration
	BlackoutDuration   time.Duration
	AuthResolveTimeout time.Duration
	CredentialGrace    time.Duration
	MarkerTTL          time.Duration
	SessionIdleTTL     time.Duration

	ResyncSchedule   string
	MembershipPolicy string
	OTLPEndpoint     string
	CORSOrigins      []string

	RateBurst  int
	RatePerSec int
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      envOr("CLUB_HTTP_ADDR", ":8080"),
		GRPCAddr:      envOr("CLUB_GRPC_ADDR", ":9090"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("CLUB_PG_DSN")),
		RedisAddr:     strings.TrimSpace(os.Getenv("CLUB_REDIS_ADDR")),
		RedisPassword: os.Getenv("CLUB_REDIS_PASSWORD"),
		NATSURL:       strings.TrimSpace(os.Getenv("CLUB_NATS_URL")),

		RootEmail: strings.ToLower(strings.TrimSpace(os.Getenv("CLUB_ROOT_EMAIL"))),
		RootID:    strings.TrimSpace(os.Getenv("CLUB_ROOT_ID")),

		AuthSecret:   strings.TrimSpace(os.Getenv("CLUB_AUTH_SECRET")),
		OIDCProvider: envOr("CLUB_OIDC_PROVIDER", "google"),
		OIDCIssuer:   envOr("CLUB_OIDC_ISSUER", "https://accounts.google.com"),
		OIDCClientID: strings.TrimSpace(os.Getenv("CLUB_OIDC_CLIENT_ID")),
		OIDCSecret:   strings.TrimSpace(os.Getenv("CLUB_OIDC_CLIENT_SECRET")),
		OIDCRedirect: strings.TrimSpace(os.Getenv("CLUB_OIDC_REDIRECT_URL")),
		FrontendURL:  envOr("CLUB_FRONTEND_URL", "http://localhost:5173"),

		StorageDriver:   strings.ToLower(envOr("CLUB_STORAGE_DRIVER", "memory")),
		S3Bucket:        envOr("CLUB_S3_BUCKET", "astro_gallery"),
		S3Region:        envOr("CLUB_S3_REGION", "us-east-1"),
		S3Endpoint:      strings.TrimSpace(os.Getenv("CLUB_S3_ENDPOINT")),
		S3PublicBaseURL: strings.TrimSpace(os.Getenv("CLUB_S3_PUBLIC_URL")),

		ResyncSchedule:   envOr("CLUB_RESYNC_SCHEDULE", "@every 5m"),
		MembershipPolicy: strings.TrimSpace(os.Getenv("CLUB_MEMBERSHIP_POLICY")),
		OTLPEndpoint:     strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		CORSOrigins:      splitList(os.Getenv("CLUB_CORS_ORIGINS")),
	}

	var errs []error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"CLUB_TOKEN_TTL", 12 * time.Hour, &cfg.TokenTTL},
		{"CLUB_FALL_DURATION", 30 * time.Second, &cfg.FallDuration},
		{"CLUB_BLACKOUT_DURATION", 2 * time.Second, &cfg.BlackoutDuration},
		{"CLUB_AUTH_RESOLVE_TIMEOUT", 5 * time.Second, &cfg.AuthResolveTimeout},
		{"CLUB_CREDENTIAL_GRACE", 15 * time.Second, &cfg.CredentialGrace},
		{"CLUB_MARKER_TTL", 12 * time.Hour, &cfg.MarkerTTL},
		{"CLUB_SESSION_IDLE_TTL", 30 * time.Minute, &cfg.SessionIdleTTL},
	}
	for _, d := range durations {
		v, err := durationOr(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"CLUB_RATE_BURST", 40, &cfg.RateBurst},
		{"CLUB_RATE_PER_SEC", 20, &cfg.RatePerSec},
	}
	for _, n := range ints {
		v, err := intOr(n.key, n.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*n.dst = v
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.AuthSecret == "" {
		errs = append(errs, errors.New("CLUB_AUTH_SECRET is required"))
	} else if len(c.AuthSecret) < 32 {
		errs = append(errs, errors.New("CLUB_AUTH_SECRET must be at least 32 characters"))
	}
	if c.RootEmail == "" && c.RootID == "" {
		errs = append(errs, errors.New("CLUB_ROOT_EMAIL or CLUB_ROOT_ID is required"))
	}
	if c.BlackoutDuration <= 0 || c.FallDuration <= 0 {
		errs = append(errs, errors.New("phase durations must be positive"))
	}
	if c.StorageDriver != "memory" && c.StorageDriver != "s3" {
		errs = append(errs, fmt.Errorf("CLUB_STORAGE_DRIVER: unknown driver %q", c.StorageDriver))
	}
	return errors.Join(errs...)
}

// OIDCEnabled reports whether provider sign-in is fully configured.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCSecret != "" && c.OIDCRedirect != ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
