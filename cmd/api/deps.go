package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/infrastructure/postgres"
	"finlink/internal/infrastructure/redis"
	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/interfaces/scheduler"
	"finlink/internal/shared/auth"
	"finlink/internal/shared/config"
	"finlink/internal/shared/metrics"
	"finlink/internal/shared/resilience"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB    *postgres.DB
	Redis *redis.Client

	// Handlers
	ConnectionHandler  *httphandlers.ConnectionHandler
	InstitutionHandler *httphandlers.InstitutionHandler

	// Auth
	JWT *auth.JWT

	Metrics *metrics.Metrics

	// Services (for scheduler)
	Connections *connection.Service
	OpenFinance *openfinance.Service
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{Metrics: metrics.New()}

	db, err := postgres.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, err
	}
	deps.DB = db

	if err := db.Migrate(ctx, logger); err != nil {
		deps.Close()
		return nil, err
	}

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	// Initialize domain services
	connectionService := connection.NewService(connectionRepo)
	accountService := account.NewService(accountRepo)

	var store openfinance.ResumeStore
	switch cfg.Resume.Store {
	case "redis":
		client, err := redis.NewClient(cfg.Resume.RedisAddr, cfg.Resume.RedisPassword, cfg.Resume.RedisDB)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Redis = client
		store = redis.NewResumeStore(client.Client)
		logger.Info("oauth resume slot stored in redis", zap.String("addr", cfg.Resume.RedisAddr))
	default:
		store = postgres.NewResumeStore(db)
	}

	ofClient := ofclient.NewClient(ofclient.Config{
		BaseURL:      cfg.OpenFinance.BaseURL,
		ClientID:     cfg.OpenFinance.ClientID,
		ClientSecret: cfg.OpenFinance.ClientSecret,
		Timeout:      cfg.OpenFinance.Timeout,
		APIKeyTTL:    cfg.OpenFinance.APIKeyTTL,
		Retry: resilience.Config{
			MaxRetries:     cfg.OpenFinance.MaxRetries,
			InitialBackoff: cfg.OpenFinance.InitialBackoff,
		},
	}, logger.Named("openfinance"), deps.Metrics)

	ofService := openfinance.NewService(
		ofClient,
		connectionService,
		accountService,
		transactionRepo,
		store,
		openfinance.NewLogOpener(logger),
		openfinance.Config{
			PollAttempts:    cfg.Poll.MaxAttempts,
			PollInterval:    cfg.Poll.Interval,
			SyncLookback:    cfg.Sync.Lookback,
			SyncOverlap:     cfg.Sync.Overlap,
			SyncConcurrency: cfg.Sync.Concurrency,
		},
		logger,
		deps.Metrics,
	)

	deps.JWT = auth.NewJWT(cfg.JWT.Secret)
	deps.Connections = connectionService
	deps.OpenFinance = ofService
	deps.ConnectionHandler = httphandlers.NewConnectionHandler(ofService, connectionService, accountService, logger)
	deps.InstitutionHandler = httphandlers.NewInstitutionHandler(ofService, logger)

	return deps, nil
}

// NewScheduler builds the background refresh scheduler, or returns nil when
// it is disabled.
func (d *Dependencies) NewScheduler(cfg config.SchedulerConfig, logger *zap.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Enabled {
		logger.Info("scheduler is disabled")
		return nil, nil
	}

	return scheduler.NewScheduler(scheduler.SchedulerConfig{
		ScheduleTimes: cfg.ScheduleTimes,
		WorkerCount:   cfg.WorkerCount,
		JobDelay:      cfg.JobDelay,
		QueueSize:     cfg.QueueSize,
		RunOnStartup:  cfg.RunOnStartup,
		JobProvider:   scheduler.RefreshJobProvider(d.Connections, d.OpenFinance, staleAfter(cfg.StaleAfter), logger),
	}, logger.Named("scheduler"), d.Metrics)
}

func staleAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
