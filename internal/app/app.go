package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/accountability-dispatch/internal/config"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/handler"
	"github.com/kursadbilgin/accountability-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/accountability-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/accountability-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/accountability-dispatch/internal/media"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/kursadbilgin/accountability-dispatch/internal/push"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"github.com/kursadbilgin/accountability-dispatch/internal/service"
	"github.com/kursadbilgin/accountability-dispatch/internal/tone"
	"github.com/kursadbilgin/accountability-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ackPrefetch = 20

// App holds every long-lived component of the dispatcher process.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	DB    *gorm.DB
	Redis *redis.Client

	Broker    *queue.RabbitMQ
	Publisher *queue.RabbitMQPublisher
	Consumer  *queue.RabbitMQConsumer

	Escalator    *service.Escalator
	Tracker      *service.Tracker
	Dispatcher   *service.Dispatcher
	Orchestrator *service.Orchestrator
	Sweep        *service.Sweep
	DispatchJob  *service.TickRunner
	SweepJob     *service.TickRunner
	AckWorker    *service.AckWorker
}

// New connects to every backing service and wires the call pipeline.
// Callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	db, err := postgresql.NewPostgres(a.Config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.DB = db

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(ctx, a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	a.Redis = rdb

	if !a.Config.QueueEnabled() {
		a.Logger.Info("RABBITMQ_URL not set, call events are not published")
		return nil
	}

	broker, err := queue.NewRabbitMQ(ctx, a.Config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	a.Broker = broker
	a.Publisher = queue.NewRabbitMQPublisher(broker)
	a.Consumer = queue.NewRabbitMQConsumer(broker, ackPrefetch, a.Logger)
	return nil
}

func (a *App) wire() error {
	cfg := a.Config

	limiter, err := infraredis.NewRedisRateLimiter(a.Redis, cfg.PushRateLimitPerSec)
	if err != nil {
		return err
	}

	httpTransport, err := push.NewHTTPTransport(cfg.PushEndpoint, cfg.PushAccessToken)
	if err != nil {
		return err
	}
	limited, err := push.NewRateLimitedTransport(httpTransport, limiter)
	if err != nil {
		return err
	}
	pushTransport := push.NewObservedTransport(limited, a.Metrics)

	var sessions media.SessionProvider
	if cfg.MediaEnabled() {
		provider, err := media.NewLiveKitProvider(media.Config{
			URL:       cfg.MediaURL,
			APIKey:    cfg.MediaAPIKey,
			APISecret: cfg.MediaAPISecret,
		}, limiter)
		if err != nil {
			return err
		}
		sessions = provider
	}

	var publisher queue.EventPublisher = queue.NopEventPublisher{}
	if a.Publisher != nil {
		publisher = a.Publisher
	}

	calls := repository.NewGormCallAttemptRepo(a.DB)
	users := repository.NewGormUserRepo(a.DB)
	scorer := tone.NewScorer(tone.DefaultWeights())

	a.Escalator, err = service.NewEscalator(calls, users, users, pushTransport, scorer, publisher, a.Metrics, cfg.AppVersion, a.Logger)
	if err != nil {
		return err
	}
	a.Tracker, err = service.NewTracker(calls, a.Escalator, publisher, a.Metrics, cfg.CallTimeout, a.Logger)
	if err != nil {
		return err
	}
	a.Dispatcher, err = service.NewDispatcher(users, users, calls, a.Tracker, sessions, pushTransport, scorer, publisher, a.Metrics, cfg.AppVersion, a.Logger)
	if err != nil {
		return err
	}

	eligibility, err := service.NewEligibility(users, domain.CallTypeDailyReckoning, cfg.DispatchTickInterval, a.Logger)
	if err != nil {
		return err
	}
	a.Orchestrator, err = service.NewOrchestrator(eligibility, a.Dispatcher, domain.CallTypeDailyReckoning, cfg.BatchSize, a.Logger)
	if err != nil {
		return err
	}
	a.Sweep, err = service.NewSweep(calls, a.Escalator, a.Metrics, cfg.SweepLimit, a.Logger)
	if err != nil {
		return err
	}

	lock, err := infraredis.NewTickLock(a.Redis)
	if err != nil {
		return err
	}
	a.DispatchJob, err = service.NewTickRunner(service.JobDispatch, cfg.DispatchTickInterval, service.DispatchTick(a.Orchestrator), lock, a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	a.SweepJob, err = service.NewTickRunner(service.JobSweep, cfg.SweepTickInterval, service.SweepTick(a.Sweep), lock, a.Metrics, a.Logger)
	if err != nil {
		return err
	}

	if a.Consumer != nil {
		a.AckWorker, err = service.NewAckWorker(a.Consumer, a.Tracker, cfg.AckWorkerConcurrency, a.Logger)
		if err != nil {
			return err
		}
	}
	return nil
}

// HTTP builds the fiber app serving the call API, health checks and metrics.
func (a *App) HTTP() (*fiber.App, error) {
	server := fiber.New(fiber.Config{
		AppName:               "accountability-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(a.Logger),
	})
	server.Use(a.Metrics.HTTPMiddleware())

	sqlDB, err := a.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	handler.RegisterHealthRoutes(server, handler.PostgresCheck(sqlDB), handler.RedisCheck(a.Redis))
	server.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))

	if err := handler.RegisterCallRoutes(server, a.Dispatcher, a.Tracker); err != nil {
		return nil, err
	}
	return server, nil
}

func (a *App) Close() error {
	var errs []error
	// publisher and consumer share the broker connection
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, postgresql.Close(a.DB))
	}
	return errors.Join(errs...)
}
