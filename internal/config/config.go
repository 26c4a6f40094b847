package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calendarhub/intake/internal/domain"
)

const (
	StoreSQL   = "sql"
	StoreRedis = "redis"

	BackendAWS = "aws"
	BackendEnv = "env"
	BackendLog = "log"
	BackendSES = "ses"
)

// Config is built once at startup. Rotating any secret it references
// requires a restart.
type Config struct {
	Env      string
	HTTPPort string
	LogLevel string
	// LogOutput is "stdout" or "stderr". The operator CLIs use stderr so
	// stdout carries only their result.
	LogOutput string

	PublicBaseURL string
	SitesFile     string
	Sites         []domain.Site
	SenderEmail   string

	SubmissionStore string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKeyPrefix  string
	SubmissionTTL   time.Duration
	ConfirmClaimTTL time.Duration

	AWSRegion                string
	SecretBackend            string
	CSRFSecretName           string
	NewsletterCSRFSecretName string
	GitHubTokenSecretName    string
	FeedbackSecretName       string
	CSRFTokenTTL             time.Duration

	ConfirmationKeyID      string
	ConfirmationSigningKey string
	ConfirmationLinkMaxAge time.Duration

	EmailBackend string

	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	FormRateLimitPerMin int

	MetricsEnabled           bool
	OTELTracingEnabled       bool
	OTELServiceName          string
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogOutput:                strings.ToLower(getEnv("LOG_OUTPUT", "stdout")),
		PublicBaseURL:            strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SitesFile:                getEnv("SITES_CONFIG_PATH", "sites.json"),
		SenderEmail:              os.Getenv("SENDER_EMAIL"),
		SubmissionStore:          strings.ToLower(getEnv("SUBMISSION_STORE", StoreSQL)),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix:           getEnv("REDIS_KEY_PREFIX", "intake"),
		AWSRegion:                getEnv("AWS_REGION", "us-east-1"),
		SecretBackend:            strings.ToLower(getEnv("SECRET_BACKEND", BackendEnv)),
		CSRFSecretName:           getEnv("CSRF_SECRET_NAME", "intake/csrf-secret"),
		NewsletterCSRFSecretName: os.Getenv("NEWSLETTER_CSRF_SECRET_NAME"),
		GitHubTokenSecretName:    getEnv("GITHUB_TOKEN_SECRET_NAME", "intake/github-token"),
		FeedbackSecretName:       getEnv("FEEDBACK_SECRET_NAME", "intake/feedback-webhook"),
		ConfirmationKeyID:        os.Getenv("CONFIRMATION_KEY_ID"),
		ConfirmationSigningKey:   os.Getenv("CONFIRMATION_SIGNING_KEY"),
		EmailBackend:             strings.ToLower(getEnv("EMAIL_BACKEND", BackendLog)),
		ObjectStoreEndpoint:      os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKey:     os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey:     os.Getenv("OBJECT_STORE_SECRET_KEY"),
		ObjectStoreBucket:        getEnv("OBJECT_STORE_BUCKET", "submissions"),
		ObjectStoreUseSSL:        getEnvBool("OBJECT_STORE_USE_SSL", true),
		FormRateLimitPerMin:      getEnvInt("FORM_RATE_LIMIT_PER_MIN", 20),
		MetricsEnabled:           getEnvBool("METRICS_ENABLED", true),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "intake"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}
	if cfg.NewsletterCSRFSecretName == "" {
		cfg.NewsletterCSRFSecretName = cfg.CSRFSecretName
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"SUBMISSION_TTL", "0s", &cfg.SubmissionTTL},
		{"CONFIRM_CLAIM_TTL", "2m", &cfg.ConfirmClaimTTL},
		{"CSRF_TOKEN_TTL", "1h", &cfg.CSRFTokenTTL},
		{"CONFIRMATION_LINK_MAX_AGE", "6h", &cfg.ConfirmationLinkMaxAge},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	ratio, err := strconv.ParseFloat(getEnv("OTEL_TRACE_SAMPLING_RATIO", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("parse OTEL_TRACE_SAMPLING_RATIO: %w", err)
	}
	cfg.OTELTraceSamplingRatio = ratio

	sites, err := LoadSites(cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if len(c.Sites) == 0 {
		errs = append(errs, "at least one site must be configured")
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "PUBLIC_BASE_URL must be an absolute URL")
	}
	switch c.SubmissionStore {
	case StoreSQL:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when SUBMISSION_STORE=sql")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when SUBMISSION_STORE=redis")
		}
	default:
		errs = append(errs, "SUBMISSION_STORE must be sql or redis")
	}
	if c.SecretBackend != BackendAWS && c.SecretBackend != BackendEnv {
		errs = append(errs, "SECRET_BACKEND must be aws or env")
	}
	if c.EmailBackend != BackendSES && c.EmailBackend != BackendLog {
		errs = append(errs, "EMAIL_BACKEND must be ses or log")
	}
	if c.EmailBackend == BackendSES && c.SenderEmail == "" {
		errs = append(errs, "SENDER_EMAIL is required when EMAIL_BACKEND=ses")
	}
	if c.ConfirmationKeyID == "" && len(c.ConfirmationSigningKey) < 16 {
		errs = append(errs, "CONFIRMATION_KEY_ID or a CONFIRMATION_SIGNING_KEY of at least 16 chars is required")
	}
	if c.CSRFTokenTTL <= 0 {
		errs = append(errs, "CSRF_TOKEN_TTL must be > 0")
	}
	if c.ConfirmationLinkMaxAge <= 0 {
		errs = append(errs, "CONFIRMATION_LINK_MAX_AGE must be > 0")
	}
	if c.ConfirmClaimTTL <= 0 {
		errs = append(errs, "CONFIRM_CLAIM_TTL must be > 0")
	}
	if c.SubmissionTTL < 0 {
		errs = append(errs, "SUBMISSION_TTL must be >= 0")
	}
	if c.FormRateLimitPerMin <= 0 {
		errs = append(errs, "FORM_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	for _, s := range c.Sites {
		if s.PublisherKind() == domain.PublisherObjectStore && c.ObjectStoreEndpoint == "" {
			errs = append(errs, fmt.Sprintf("site %q uses object_store but OBJECT_STORE_ENDPOINT is empty", s.Slug))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// SiteDirectory builds the lookup used by request handlers.
func (c *Config) SiteDirectory() *domain.SiteDirectory {
	return domain.NewSiteDirectory(c.Sites)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "test"
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
