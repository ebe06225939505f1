package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/kursadbilgin/notification-engine/internal/config"
	"github.com/kursadbilgin/notification-engine/internal/dnd"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/handler"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-engine/internal/infra/redis"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/rule"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"github.com/kursadbilgin/notification-engine/internal/supervisor"
	"github.com/kursadbilgin/notification-engine/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	eventPrefetch  = 10
	awsInitTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	var limiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.ChannelRateLimits())
		if err != nil {
			logger.Fatal("redis rate limiter initialization failed", zap.Error(err))
		}
	} else {
		logger.Warn("REDIS_URL not set, using in-process rate limiter")
		limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerSec, cfg.ChannelRateLimits())
	}

	sender, err := buildSender(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Fatal("channel sender initialization failed", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		logger.Fatal("invalid default timezone", zap.Error(err))
	}

	notifications := repository.NewGormNotificationRepo(db)
	tasks := repository.NewGormRetryTaskRepo(db)
	events := repository.NewGormEventRepo(db)
	rules := repository.NewGormRuleRepo(db)

	engine, err := service.NewEngine(
		notifications,
		tasks,
		repository.NewGormAttemptRepo(db),
		repository.NewGormUserDirectory(db),
		dnd.NewEvaluator(location),
		sender,
		limiter,
		service.EngineConfig{
			MaxAttempts:      cfg.MaxAttempts,
			RetryBaseDelay:   cfg.RetryBaseDelay(),
			RetryMaxDelay:    cfg.RetryMaxDelay(),
			TransportTimeout: cfg.TransportTimeout(),
			ClaimLease:       cfg.RetryLease(),
		},
		logger.Named("engine"),
	)
	if err != nil {
		logger.Fatal("dispatch engine initialization failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	scheduler, err := service.NewRetryScheduler(tasks, engine, service.RetrySchedulerConfig{
		PollInterval: cfg.RetryPollInterval(),
		BatchSize:    cfg.RetryDrainBatch,
		Concurrency:  cfg.RetryConcurrency,
		Lease:        cfg.RetryLease(),
	}, logger.Named("retry-scheduler"))
	if err != nil {
		logger.Fatal("retry scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	evaluator, err := rule.NewEvaluator(events, nil, logger.Named("rules"))
	if err != nil {
		logger.Fatal("rule evaluator initialization failed", zap.Error(err))
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig(), logger.Named("supervisor"))

	var publisher queue.Publisher
	var rabbit *queue.RabbitMQ
	if cfg.EventQueueEnabled {
		rabbit, err = queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = queue.NewRabbitMQPublisher(rabbit)
	}

	eventService, err := service.NewEventService(events, rules, evaluator, engine, publisher, logger.Named("events"))
	if err != nil {
		logger.Fatal("event service initialization failed", zap.Error(err))
	}
	eventService.SetMetrics(metrics)

	ruleService, err := service.NewRuleService(rules, engine, logger.Named("rules"))
	if err != nil {
		logger.Fatal("rule service initialization failed", zap.Error(err))
	}

	if rabbit != nil {
		consumer := queue.NewRabbitMQConsumer(rabbit, eventPrefetch, logger.Named("consumer"))
		worker, err := service.NewEventWorker(consumer, eventService, cfg.WorkerConcurrency, logger.Named("event-worker"))
		if err != nil {
			logger.Fatal("event worker initialization failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)
		tree.AddDispatchService(supervisor.Func{Name: "event-worker", Run: worker.Start})
	}
	tree.AddDispatchService(supervisor.Func{Name: "retry-scheduler", Run: scheduler.Start})

	app := transport.NewApp(metrics, logger.Named("http"))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics.Handler())
	if err := handler.RegisterNotificationRoutes(app, engine); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterEventRoutes(app, eventService); err != nil {
		logger.Fatal("event routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterRuleRoutes(app, ruleService); err != nil {
		logger.Fatal("rule routes registration failed", zap.Error(err))
	}

	server, err := transport.NewServer(app, cfg.APIPort, logger.Named("http"))
	if err != nil {
		logger.Fatal("http server initialization failed", zap.Error(err))
	}
	tree.AddAPIService(server)

	logger.Info("notification-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.Bool("eventQueue", cfg.EventQueueEnabled),
		zap.Int("maxAttempts", cfg.MaxAttempts),
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		logger.Error("supervisor tree stopped", zap.Error(err))
	}
	logger.Info("notification-engine api stopped")
}

// buildSender wires the channel senders behind the router and the per-channel
// circuit breakers. Channels without configuration stay unset and fail as
// permanent provider errors.
func buildSender(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (provider.ChannelSender, error) {
	var email, sms, push provider.ChannelSender

	if cfg.SESFromEmail != "" || cfg.SMSEnabled {
		awsCtx, cancel := context.WithTimeout(ctx, awsInitTimeout)
		awsCfg, err := provider.LoadAWSConfig(awsCtx, cfg.AWSRegion)
		cancel()
		if err != nil {
			return nil, err
		}

		if cfg.SESFromEmail != "" {
			email, err = provider.NewSESEmailSender(ses.NewFromConfig(awsCfg), cfg.SESFromEmail, cfg.EmailSubject)
			if err != nil {
				return nil, err
			}
		}
		if cfg.SMSEnabled {
			sms, err = provider.NewSNSSMSSender(sns.NewFromConfig(awsCfg))
			if err != nil {
				return nil, err
			}
		}
	}

	if cfg.PushWebhookURL != "" {
		webhook, err := provider.NewWebhookPushSender(cfg.PushWebhookURL)
		if err != nil {
			return nil, err
		}
		push = webhook
	}

	return provider.NewBreakerSender(provider.NewRouter(email, sms, push), provider.BreakerSettings{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout(),
		OnStateChange: func(channel domain.Channel, state gobreaker.State) {
			metrics.SetBreakerState(channel.String(), int(state))
		},
	}, logger.Named("breaker"))
}
