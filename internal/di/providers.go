package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	"github.com/calendarhub/intake/internal/app"
	"github.com/calendarhub/intake/internal/config"
	"github.com/calendarhub/intake/internal/database"
	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/handler"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/http/router"
	"github.com/calendarhub/intake/internal/observability"
	"github.com/calendarhub/intake/internal/repository"
	"github.com/calendarhub/intake/internal/security"
	"github.com/calendarhub/intake/internal/service"
)

const secretLoadTimeout = 10 * time.Second

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideLogger,
	provideTracerProvider,
	provideMetricsRegistry,
)

var RuntimeInfraSet = wire.NewSet(
	provideAWSConfig,
	provideSecretStore,
	provideSecrets,
	provideRedisClient,
)

var RepositorySet = wire.NewSet(provideSubmissionRepository)

var SecuritySet = wire.NewSet(
	provideConfirmationSigner,
	provideLinkProtocol,
)

var ServiceSet = wire.NewSet(
	service.NewValidator,
	provideEmailService,
	providePublisherSet,
	provideSubmissionService,
	provideNewsletterService,
)

var HTTPSet = wire.NewSet(
	render.New,
	provideSubmissionHandler,
	provideNewsletterHandler,
	provideFormRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

// Secrets is resolved once at startup. Rotating any of them means restarting
// the process.
type Secrets struct {
	CSRF           string
	NewsletterCSRF string
	GitHubToken    string
	Feedback       string
}

func provideLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	return logger
}

func provideTracerProvider(cfg *config.Config, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	return observability.InitTracing(context.Background(), cfg, logger)
}

func provideMetricsRegistry(cfg *config.Config) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if !cfg.MetricsEnabled {
		return reg, nil
	}
	if err := observability.RegisterMetrics(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return reg, nil
}

func provideAWSConfig(cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func provideSecretStore(cfg *config.Config, awsCfg aws.Config) service.SecretStore {
	if cfg.SecretBackend == config.BackendAWS {
		return service.NewAWSSecretStore(awsCfg)
	}
	return service.NewEnvSecretStore()
}

func provideSecrets(cfg *config.Config, store service.SecretStore, logger *slog.Logger) (Secrets, error) {
	ctx, cancel := context.WithTimeout(context.Background(), secretLoadTimeout)
	defer cancel()

	var s Secrets
	required := []struct {
		name string
		key  string
		dst  *string
	}{
		{cfg.CSRFSecretName, "csrf_secret", &s.CSRF},
		{cfg.NewsletterCSRFSecretName, "csrf_secret", &s.NewsletterCSRF},
	}
	for _, r := range required {
		v, err := service.LoadSecretValue(ctx, store, r.name, r.key)
		if err != nil {
			return Secrets{}, fmt.Errorf("load secret %s: %w", r.name, err)
		}
		*r.dst = v
	}

	// Optional secrets leave their feature inert when absent: no GitHub
	// publisher without a token, no feedback webhook without a secret.
	optional := []struct {
		name string
		key  string
		dst  *string
	}{
		{cfg.GitHubTokenSecretName, "github_token", &s.GitHubToken},
		{cfg.FeedbackSecretName, "feedback_secret", &s.Feedback},
	}
	for _, o := range optional {
		v, err := service.LoadSecretValue(ctx, store, o.name, o.key)
		if err != nil {
			logger.Warn("optional secret unavailable", "name", o.name, "error", err)
			continue
		}
		*o.dst = v
	}
	return s, nil
}

// provideRedisClient returns nil unless Redis backs the submission store.
func provideRedisClient(cfg *config.Config) *redis.Client {
	if cfg.SubmissionStore != config.StoreRedis {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideSubmissionRepository(cfg *config.Config, client *redis.Client) (repository.SubmissionRepository, error) {
	if cfg.SubmissionStore == config.StoreRedis {
		return repository.NewRedisSubmissionRepository(client, cfg.RedisKeyPrefix, cfg.SubmissionTTL), nil
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return repository.NewGormSubmissionRepository(db), nil
}

func provideConfirmationSigner(cfg *config.Config, awsCfg aws.Config) (security.Signer, error) {
	if cfg.ConfirmationKeyID != "" {
		return service.NewKMSMACSigner(awsCfg, cfg.ConfirmationKeyID), nil
	}
	return security.NewLocalMACSigner(cfg.ConfirmationSigningKey)
}

func provideLinkProtocol(signer security.Signer, cfg *config.Config) *security.LinkProtocol {
	return security.NewLinkProtocol(signer, cfg.ConfirmationLinkMaxAge)
}

func provideEmailService(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) service.EmailService {
	if cfg.EmailBackend == config.BackendSES {
		return service.NewSESEmailService(awsCfg)
	}
	return service.NewDevEmailService(logger)
}

func providePublisherSet(cfg *config.Config, secrets Secrets, logger *slog.Logger) (service.PublisherSet, error) {
	set := service.PublisherSet{}
	if secrets.GitHubToken != "" {
		set[domain.PublisherGitHub] = service.NewGitHubPublisher(service.NewGitHubClient(secrets.GitHubToken))
	} else {
		logger.Warn("github token not configured; github publishing disabled")
	}
	if cfg.ObjectStoreEndpoint != "" {
		p, err := service.NewObjectStorePublisher(
			cfg.ObjectStoreEndpoint,
			cfg.ObjectStoreAccessKey,
			cfg.ObjectStoreSecretKey,
			cfg.ObjectStoreBucket,
			cfg.ObjectStoreUseSSL,
		)
		if err != nil {
			return nil, err
		}
		set[domain.PublisherObjectStore] = p
	}
	return set, nil
}

func provideSubmissionService(
	repo repository.SubmissionRepository,
	publishers service.PublisherSet,
	email service.EmailService,
	validator *service.Validator,
	cfg *config.Config,
	logger *slog.Logger,
) *service.SubmissionService {
	return service.NewSubmissionService(repo, publishers, email, validator, service.SubmissionServiceConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		SenderEmail:   cfg.SenderEmail,
		ClaimTTL:      cfg.ConfirmClaimTTL,
	}, logger)
}

func provideNewsletterService(
	links *security.LinkProtocol,
	email service.EmailService,
	validator *service.Validator,
	cfg *config.Config,
	logger *slog.Logger,
) *service.NewsletterService {
	return service.NewNewsletterService(links, email, validator, service.NewsletterServiceConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		SenderEmail:   cfg.SenderEmail,
	}, logger)
}

func provideSubmissionHandler(
	svc *service.SubmissionService,
	secrets Secrets,
	cfg *config.Config,
	views *render.Renderer,
	logger *slog.Logger,
) (*handler.SubmissionHandler, error) {
	csrf, err := security.NewCSRFManager(secrets.CSRF, cfg.CSRFTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("submission csrf: %w", err)
	}
	return handler.NewSubmissionHandler(svc, csrf, views, logger), nil
}

func provideNewsletterHandler(
	svc *service.NewsletterService,
	secrets Secrets,
	cfg *config.Config,
	views *render.Renderer,
	logger *slog.Logger,
) (*handler.NewsletterHandler, error) {
	csrf, err := security.NewCSRFManager(secrets.NewsletterCSRF, cfg.CSRFTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("newsletter csrf: %w", err)
	}
	return handler.NewNewsletterHandler(svc, csrf, views, secrets.Feedback, logger), nil
}

// FormRateLimit is the middleware applied to every form POST.
type FormRateLimit func(http.Handler) http.Handler

func provideFormRateLimiter(cfg *config.Config, client *redis.Client) FormRateLimit {
	policy := middleware.Policy{
		Limit:  cfg.FormRateLimitPerMin,
		Window: time.Minute,
		Scope:  "forms",
		Key:    middleware.SiteAndIPKey,
	}
	var backend middleware.Limiter
	if client != nil {
		backend = middleware.NewRedisFixedWindowLimiter(client, cfg.RedisKeyPrefix+":rl")
		policy.Mode = middleware.FailOpen
	}
	return middleware.NewRateLimiter(backend, policy).Middleware()
}

func provideRouterDependencies(
	cfg *config.Config,
	submissions *handler.SubmissionHandler,
	newsletter *handler.NewsletterHandler,
	limit FormRateLimit,
	reg *prometheus.Registry,
	logger *slog.Logger,
) router.Dependencies {
	dep := router.Dependencies{
		Sites:             cfg.SiteDirectory(),
		SubmissionHandler: submissions,
		NewsletterHandler: newsletter,
		FormRateLimiter:   limit,
		Logger:            logger,
	}
	if cfg.MetricsEnabled && reg != nil {
		dep.MetricsHandler = observability.MetricsHandler(reg)
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// MigrationRunner applies the schema and exits. It backs the "migrate"
// subcommand of the api binary.
type MigrationRunner struct {
	db *gorm.DB
}

func NewMigrationRunner(db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func (m *MigrationRunner) Run() error {
	return database.Migrate(m.db)
}

// NewsletterTools backs the newsletterctl operator CLI. It needs no HTTP
// stack and no submission store.
type NewsletterTools struct {
	Sites      *domain.SiteDirectory
	Admin      service.ListAdmin
	Newsletter *service.NewsletterService
}

func NewNewsletterTools(cfg *config.Config, email service.EmailService, newsletter *service.NewsletterService) *NewsletterTools {
	return &NewsletterTools{
		Sites:      cfg.SiteDirectory(),
		Admin:      email,
		Newsletter: newsletter,
	}
}
