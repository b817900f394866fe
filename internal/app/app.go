// Package app wires the store, queue, alerting pipeline and transports into
// one runnable process.
package app

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/envsense/envsense/internal/alerting"
	"github.com/envsense/envsense/internal/api"
	apiv2 "github.com/envsense/envsense/internal/api/v2"
	"github.com/envsense/envsense/internal/auth"
	"github.com/envsense/envsense/internal/conf"
	datastore "github.com/envsense/envsense/internal/datastore/v2"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/ingest"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/mqtt"
	"github.com/envsense/envsense/internal/notification"
	"github.com/envsense/envsense/internal/observability/metrics"
	"github.com/envsense/envsense/internal/queue"
)

const (
	redisPingTimeout = 5 * time.Second

	// sharedRuleCacheTTL caps the rule cache when workers share the redis
	// queue. Invalidation only reaches the process that changed the rule.
	sharedRuleCacheTTL = 5 * time.Second
)

// Repositories groups the store accessors shared by every component.
type Repositories struct {
	Users         repository.UserRepository
	Devices       repository.DeviceRepository
	Readings      repository.ReadingRepository
	Rules         repository.AlertRuleRepository
	Records       repository.AlertRecordRepository
	Notifications repository.NotificationRepository
}

// NewRepositories builds every repository on store.
func NewRepositories(store *datastore.Manager) Repositories {
	db := store.DB()
	return Repositories{
		Users:         repository.NewUserRepository(db),
		Devices:       repository.NewDeviceRepository(db),
		Readings:      repository.NewReadingRepository(db),
		Rules:         repository.NewAlertRuleRepository(db),
		Records:       repository.NewAlertRecordRepository(db),
		Notifications: repository.NewNotificationRepository(db),
	}
}

// OpenStore connects to the configured database and migrates the schema.
func OpenStore(settings *conf.Settings) (*datastore.Manager, error) {
	store, err := datastore.Open(settings.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// App is the assembled envsense process.
type App struct {
	settings *conf.Settings
	log      logger.Logger
	store    *datastore.Manager
	redis    *redis.Client
	metrics  *metrics.Metrics

	Repos      Repositories
	Queue      queue.Queue
	Evaluator  *alerting.Evaluator
	Dispatcher *alerting.Dispatcher
	Sweeper    *alerting.RetentionSweeper
	Ingest     *ingest.Service
	MQTT       *mqtt.Subscriber
	Server     *api.Server
}

// New builds every component from settings. The caller owns the returned
// App and must Close it.
func New(settings *conf.Settings, log logger.Logger) (*App, error) {
	authManager, err := auth.NewManager(settings.Auth)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(settings)
	if err != nil {
		return nil, err
	}

	a := &App{
		settings: settings,
		log:      log,
		store:    store,
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Repos:    NewRepositories(store),
	}

	if err := a.buildQueue(); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Evaluator = alerting.NewEvaluator(a.Repos.Readings, a.Repos.Rules, a.Repos.Records, a.Queue,
		alerting.EvaluatorConfig{
			Epsilon:      settings.Alerting.EqualityEpsilon,
			AutoResolve:  settings.Alerting.AutoResolve,
			RuleCacheTTL: ruleCacheTTL(settings),
		}, log, a.metrics)

	channels := notification.NewRegistry(notification.Options{
		WebhookTimeout: settings.Notifications.WebhookTimeout.Std(),
	})
	a.Dispatcher = alerting.NewDispatcher(a.Repos.Rules, a.Repos.Records, a.Repos.Notifications, channels,
		alerting.DispatcherConfig{
			MaxRetries: settings.Notifications.MaxRetries,
			RetryDelay: settings.Notifications.RetryDelay.Std(),
			Location:   settings.Location(),
		}, log, a.metrics)

	a.Sweeper = alerting.NewRetentionSweeper(a.Repos.Records,
		settings.Alerting.RetentionWindow(), settings.Alerting.CleanupInterval.Std(), log, a.metrics)

	a.Ingest = ingest.NewService(a.Repos.Devices, a.Repos.Readings, a.Queue, log, a.metrics)
	if settings.MQTT.Enabled {
		a.MQTT = mqtt.NewSubscriber(settings.MQTT, a.Ingest, log)
	}

	a.Server = api.NewServer(settings.WebServer, settings.Metrics, store, apiv2.Options{
		Users:           a.Repos.Users,
		Devices:         a.Repos.Devices,
		Readings:        a.Repos.Readings,
		Rules:           a.Repos.Rules,
		Records:         a.Repos.Records,
		Notifications:   a.Repos.Notifications,
		Ingest:          a.Ingest,
		RuleCache:       a.Evaluator,
		Auth:            authManager,
		Log:             log,
		Metrics:         a.metrics,
		UploadRateLimit: settings.WebServer.UploadRateLimit,
		UploadBurst:     settings.WebServer.UploadBurst,
	})
	return a, nil
}

// ruleCacheTTL returns the configured rule cache TTL, capped at
// sharedRuleCacheTTL for the redis backend.
func ruleCacheTTL(settings *conf.Settings) time.Duration {
	ttl := settings.Alerting.RuleCacheTTL.Std()
	if settings.Queue.Backend == "redis" && ttl > sharedRuleCacheTTL {
		return sharedRuleCacheTTL
	}
	return ttl
}

func (a *App) buildQueue() error {
	qs := a.settings.Queue
	switch qs.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     qs.Redis.Addr,
			Password: qs.Redis.Password,
			DB:       qs.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return errors.Newf("failed to reach redis at %s: %w", qs.Redis.Addr, err).
				Component("app").Category(errors.CategoryQueue).Build()
		}
		a.Queue = queue.NewRedisQueue(a.redis, queue.RedisConfig{
			Stream:    qs.Redis.Stream,
			Group:     qs.Redis.Group,
			Workers:   qs.Workers,
			ClaimIdle: qs.Redis.ClaimIdle.Std(),
			MaxLen:    qs.Redis.MaxLen,
		}, a.log, a.metrics)
	default:
		a.Queue = queue.NewMemoryQueue(queue.MemoryConfig{
			Workers:    qs.Workers,
			BufferSize: qs.BufferSize,
		}, a.log, a.metrics)
	}
	return nil
}

// Run starts the workers, the retention sweeper, the MQTT subscriber and
// the HTTP server, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Queue.Run(ctx, alerting.NewTaskHandler(a.Evaluator, a.Dispatcher))
	})
	g.Go(func() error { return a.Sweeper.Run(ctx) })
	if a.MQTT != nil {
		g.Go(func() error { return a.MQTT.Run(ctx) })
	}
	g.Go(func() error { return a.Server.Run(ctx) })

	a.log.Info("envsense started",
		logger.String("listen", a.settings.WebServer.Listen),
		logger.String("database", a.settings.Database.Type),
		logger.String("queue", a.settings.Queue.Backend),
		logger.Bool("mqtt", a.MQTT != nil))

	err := g.Wait()
	_ = a.Queue.Close()
	return err
}

// Close releases the store and the redis client.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
