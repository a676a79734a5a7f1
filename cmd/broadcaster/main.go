// Command broadcaster runs the broadcast delivery platform: the HTTP API,
// the scheduler's singleton tasks, the outbox publisher, the orchestration
// and DLT consumers, and the pod-local worker that drains dispatches to
// live SSE connections. One binary, every role active — splitting roles
// across separate processes is left to deployment topology (replica count
// and k8s resource requests), not to a build-time flag.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/broadcaster/pkg/api"
	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	cachemem "github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/memory"
	cacheredis "github.com/codeready-toolchain/broadcaster/pkg/cache/adapters/redis"
	"github.com/codeready-toolchain/broadcaster/pkg/config"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/distlock"
	distlockmem "github.com/codeready-toolchain/broadcaster/pkg/distlock/adapters/memory"
	distlockredis "github.com/codeready-toolchain/broadcaster/pkg/distlock/adapters/redis"
	"github.com/codeready-toolchain/broadcaster/pkg/dlt"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/health"
	"github.com/codeready-toolchain/broadcaster/pkg/inbox"
	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/orchestration"
	"github.com/codeready-toolchain/broadcaster/pkg/outbox"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
	"github.com/codeready-toolchain/broadcaster/pkg/scheduler"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
	"github.com/codeready-toolchain/broadcaster/pkg/targeting"
	"github.com/codeready-toolchain/broadcaster/pkg/userservice"
	"github.com/codeready-toolchain/broadcaster/pkg/version"
	"github.com/codeready-toolchain/broadcaster/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	log := slog.Default()
	log.Info("starting broadcaster", "version", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, *cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Error("error closing database client", "error", err)
		}
	}()
	log.Info("connected to database and applied migrations")

	broker, err := newBroker(cfg.EventBus)
	if err != nil {
		log.Error("failed to build event bus", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	presenceStore, err := newPresenceStore(cfg.Presence)
	if err != nil {
		log.Error("failed to build presence store", "error", err)
		os.Exit(1)
	}

	cacheBackend, err := newCacheBackend(cfg.Cache)
	if err != nil {
		log.Error("failed to build cache backend", "error", err)
		os.Exit(1)
	}
	defer cacheBackend.Close()

	locker, err := newLocker(cfg.DistLock)
	if err != nil {
		log.Error("failed to build distributed locker", "error", err)
		os.Exit(1)
	}
	defer locker.Close()

	contentCache := cache.NewBroadcastContentCache(cacheBackend, cfg.Retention.FinalizedAge)
	userInboxCache := cache.NewUserInboxCache(cacheBackend, cfg.Retention.FinalizedAge)
	pendingCache := cache.NewPendingEventsCache(cacheBackend, cfg.Retention.FinalizedAge)
	dispatchRegion := cache.NewSseDispatchRegion(cacheBackend, cfg.SSE.ClientTimeoutThreshold)

	userClient := userservice.New(cfg.UserService.BaseURL, cfg.UserService.Timeout)

	lifecycleBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "user-service-lifecycle",
		MaxRequests:  cfg.Targeting.CircuitBreakerMaxRequests,
		Interval:     cfg.Targeting.CircuitBreakerInterval,
		Timeout:      cfg.Targeting.CircuitBreakerTimeout,
		FailureRatio: cfg.Targeting.CircuitBreakerFailureRatio,
	})
	lifecycleBulkhead := resilience.NewBulkhead(cfg.Targeting.BulkheadConcurrency)
	lifecycleService := lifecycle.New(dbClient, userClient, lifecycleBreaker, lifecycleBulkhead,
		cfg.EventBus.OrchestrationTopic, cfg.Scheduler.UserFetchDelay)

	targetingBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "user-service-targeting",
		MaxRequests:  cfg.Targeting.CircuitBreakerMaxRequests,
		Interval:     cfg.Targeting.CircuitBreakerInterval,
		Timeout:      cfg.Targeting.CircuitBreakerTimeout,
		FailureRatio: cfg.Targeting.CircuitBreakerFailureRatio,
	})
	targetingBulkhead := resilience.NewBulkhead(cfg.Targeting.BulkheadConcurrency)
	targetingService := targeting.New(dbClient, userClient, targetingBreaker, targetingBulkhead,
		log.With("component", "targeting"))

	lifecycleService.PrecomputeTrigger = func(broadcastID int64) {
		go func() {
			precomputeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := targetingService.Precompute(precomputeCtx, broadcastID); err != nil {
				log.Error("precompute failed", "broadcastId", broadcastID, "error", err)
			}
		}()
	}

	sched := scheduler.New(dbClient, lifecycleService, targetingService, presenceStore, locker,
		cfg.Scheduler, cfg.Retention, log.With("component", "scheduler"))

	outboxPublisher := outbox.New(dbClient, broker, cfg.Outbox, log.With("component", "outbox"))

	orchestrationConsumer, err := broker.Consumer(cfg.EventBus.OrchestrationTopic, cfg.EventBus.ConsumerGroup)
	if err != nil {
		log.Error("failed to create orchestration consumer", "error", err)
		os.Exit(1)
	}
	dltProducer, err := broker.Producer(eventbus.DLTTopic(cfg.EventBus.OrchestrationTopic))
	if err != nil {
		log.Error("failed to create DLT producer", "error", err)
		os.Exit(1)
	}
	orchestrationConsumerSvc := orchestration.New(dbClient, orchestrationConsumer, dltProducer,
		cfg.EventBus.ConsumerMaxAttempts, cfg.EventBus.ConsumerRetryDelay, presenceStore,
		contentCache, userInboxCache, pendingCache, dispatchRegion, log.With("component", "orchestration"))

	sseManager := sse.New(cfg.Pod.PodName, cfg.Pod.ClusterName, presenceStore,
		cfg.SSE.HeartbeatInterval, cfg.SSE.MaxConnectionsPerUser, cfg.SSE.SendBufferSize,
		log.With("component", "sse"))

	workerConsumer := worker.New(presence.WorkerTopicKey(cfg.Pod.ClusterName, cfg.Pod.PodName), dispatchRegion, sseManager,
		cfg.SSE.WorkerPollInterval, log.With("component", "worker"))

	dltConsumer, err := broker.Consumer(eventbus.DLTTopic(cfg.EventBus.OrchestrationTopic), cfg.EventBus.ConsumerGroup+"-dlt")
	if err != nil {
		log.Error("failed to create DLT consumer", "error", err)
		os.Exit(1)
	}
	dltService := dlt.New(dbClient, dltConsumer, cfg.EventBus.OrchestrationTopic, log.With("component", "dlt"))

	inboxService := inbox.New(dbClient, contentCache, userInboxCache, pendingCache,
		cfg.EventBus.OrchestrationTopic, log.With("component", "inbox"))

	healthChecker := health.New(dbClient, broker, presenceStore, sseManager, 5*time.Second)

	server := api.NewServer(dbClient, lifecycleService, sseManager)
	server.SetDLTService(dltService)
	server.SetInboxService(inboxService)
	server.SetHealthChecker(healthChecker)
	if err := server.ValidateWiring(); err != nil {
		log.Error("server wiring incomplete", "error", err)
		os.Exit(1)
	}

	// Pod self-heartbeat, read by the reap-stale-pods task.
	go func() {
		ticker := time.NewTicker(cfg.Presence.HeartbeatInterval)
		defer ticker.Stop()
		for {
			if err := presenceStore.PodHeartbeat(ctx, cfg.Pod.PodName, time.Now()); err != nil {
				log.Warn("pod heartbeat failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	sched.Start(ctx)
	defer sched.Stop()

	go outboxPublisher.Run(ctx)
	go func() {
		if err := orchestrationConsumerSvc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("orchestration consumer stopped", "error", err)
		}
	}()
	go func() {
		if err := dltService.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("dlt consumer stopped", "error", err)
		}
	}()
	go workerConsumer.Run(ctx)

	httpPort := getEnv("HTTP_PORT", "8080")
	go func() {
		log.Info("http server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", "error", err)
	}
	sseManager.Shutdown()
}

func newBroker(cfg *config.EventBusConfig) (eventbus.Broker, error) {
	if cfg.Driver == "kafka" {
		return eventbus.NewKafkaBroker(cfg.Brokers)
	}
	return eventbus.NewMemoryBroker(), nil
}

func newPresenceStore(cfg *config.PresenceConfig) (presence.Store, error) {
	if cfg.Driver == "redis" {
		return presence.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EntryTTL)
	}
	return presence.NewMemoryStore(), nil
}

func newCacheBackend(cfg *config.CacheConfig) (cache.Cache, error) {
	if cfg.Driver == "redis" {
		return cacheredis.New(cache.Config{
			Driver:   cfg.Driver,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return cachemem.New(), nil
}

func newLocker(cfg *config.DistLockConfig) (distlock.Locker, error) {
	if cfg.Driver == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Host + ":" + cfg.Port,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return distlockredis.New(client, cfg.Prefix), nil
	}
	return distlockmem.New(), nil
}
