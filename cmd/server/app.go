package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"docsign/backend/internal/config"
	"docsign/backend/internal/logging"
	"docsign/backend/internal/notify"
	"docsign/backend/internal/observability"
	"docsign/backend/internal/render"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/services"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/storage"
	"docsign/backend/internal/token"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	pool  *pgxpool.Pool
	store repository.Store
	blobs storage.BlobStore
	// files is set when blobs live on the local filesystem.
	files *storage.FSStore

	mailer    *notify.Mailer
	metrics   *observability.Metrics
	documents *services.DocumentService
	engine    *services.Engine
	worker    *render.Worker
}

func loadConfig(opts *rootOptions) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(logOutput, cfg.IsDev()), nil
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: observability.Default()}

	if opts.inMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		a.store = repository.NewMemoryStore()
	} else {
		a.pool, err = initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("database initialization failed: %w", err)
		}
		a.store = repository.NewPostgresStore(a.pool)
	}

	key, err := tokenKey(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initStorage(ctx, key); err != nil {
		a.Close()
		return nil, err
	}

	a.mailer = notify.NewMailer(notify.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From), cfg.Server.BaseURL)
	if cfg.Email.ResendAPIKey == "" {
		logger.Warn("email.resend_api_key not set; invitations and completion emails will fail")
	}

	issuer := token.NewIssuer(key, token.WithTTL(cfg.Signing.TokenTTL))
	validator := signing.NewValidator(a.store, issuer, logger.With("component", "session"))

	pipeline := render.NewPipeline(a.store, a.blobs, a.mailer, cfg.Storage.DownloadTTL, a.metrics, logger.With("component", "render"))
	a.worker = render.NewWorker(a.store, pipeline, render.WorkerConfig{
		Workers:      cfg.Render.Workers,
		MaxAttempts:  cfg.Render.MaxAttempts,
		PollInterval: cfg.Render.PollInterval,
		BaseBackoff:  cfg.Render.BaseBackoff,
	}, a.metrics, logger.With("component", "worker"))

	a.engine = services.NewEngine(a.store, validator, issuer, a.mailer, logger.With("component", "engine"),
		services.WithRenderWaker(a.worker),
		services.WithMetrics(a.metrics),
	)
	a.documents = services.NewDocumentService(a.store, issuer, validator, a.mailer, a.blobs,
		cfg.Storage.SessionTTL, logger.With("component", "documents"))

	return a, nil
}

func (a *app) initStorage(ctx context.Context, key []byte) error {
	switch a.cfg.Storage.Driver {
	case "s3":
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          a.cfg.Storage.Bucket,
			Region:          a.cfg.Storage.Region,
			Endpoint:        a.cfg.Storage.Endpoint,
			PathStyle:       a.cfg.Storage.PathStyle,
			AccessKeyID:     a.cfg.Storage.AccessKeyID,
			SecretAccessKey: a.cfg.Storage.SecretKey,
		})
		if err != nil {
			return err
		}
		a.blobs = s3
	case "fs":
		a.files = storage.NewFSStore(a.cfg.Storage.Root, a.cfg.Server.BaseURL, key)
		a.blobs = a.files
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	a.logger.Info("storage initialized", "driver", a.cfg.Storage.Driver)
	return nil
}

// tokenKey returns the signing token hash key. DEV without a configured key
// gets a random one, so links do not survive a restart.
func tokenKey(cfg *config.Config, logger *logging.Logger) ([]byte, error) {
	if cfg.Signing.TokenKey != "" {
		return []byte(cfg.Signing.TokenKey), nil
	}
	if !cfg.IsDev() {
		return nil, errors.New("signing.token_key is required")
	}
	logger.Warn("signing.token_key not set; using an ephemeral key")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	return key, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return pool, nil
}
