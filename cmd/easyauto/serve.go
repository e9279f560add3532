package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/easy-automation/internal/actions"
	"github.com/djlord-it/easy-automation/internal/analytics"
	"github.com/djlord-it/easy-automation/internal/api"
	"github.com/djlord-it/easy-automation/internal/circuitbreaker"
	"github.com/djlord-it/easy-automation/internal/config"
	"github.com/djlord-it/easy-automation/internal/dispatcher"
	"github.com/djlord-it/easy-automation/internal/engine"
	"github.com/djlord-it/easy-automation/internal/eventbus"
	"github.com/djlord-it/easy-automation/internal/leaderelection"
	"github.com/djlord-it/easy-automation/internal/metrics"
	"github.com/djlord-it/easy-automation/internal/reconciler"
	"github.com/djlord-it/easy-automation/internal/rulefile"
	"github.com/djlord-it/easy-automation/internal/scheduler"
	"github.com/djlord-it/easy-automation/internal/store/postgres"
	"github.com/djlord-it/easy-automation/internal/transport/channel"
)

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := openDatabase(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db, cfg.DBOpTimeout)
	if err := store.EnsureSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}

	// Every component records into metricsSink; it discards everything
	// unless METRICS_ENABLED is set.
	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("easyauto: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("easyauto: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("easyauto: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("easyauto: METRICS_ENABLED not set; metrics disabled")
	}

	// Firings flow from the action registry to the dispatcher through this bus.
	firingBus := channel.NewFiringBus(cfg.EventBusBufferSize, channel.WithMetrics(metricsSink))

	registry := actions.NewRegistry(actions.NewEnqueuer(store, firingBus))

	domainBus := eventbus.New().WithMetrics(metricsSink)
	runner := engine.NewRunner(store, registry, domainBus).WithMetrics(metricsSink)

	// Snapshots first, so due-date schedules see the task state the engine saw.
	if _, err := domainBus.Subscribe("snapshots", store.ApplyEvent); err != nil {
		fmt.Fprintf(os.Stderr, "failed to subscribe snapshots: %v\n", err)
		return exitRuntimeError
	}
	if _, err := domainBus.Subscribe("engine", runner.HandleEvent); err != nil {
		fmt.Fprintf(os.Stderr, "failed to subscribe engine: %v\n", err)
		return exitRuntimeError
	}
	defer domainBus.Dispose()

	if cfg.RulesFile != "" {
		if _, err := rulefile.Import(context.Background(), store, cfg.RulesFile, defaultProjectID, rulefile.WithActionTypes(registry.Types())); err != nil {
			fmt.Fprintf(os.Stderr, "rules file %s: %v\n", cfg.RulesFile, err)
			return exitInvalidConfig
		}
	}
	if err := runner.Reload(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules: %v\n", err)
		return exitRuntimeError
	}

	disp := dispatcher.New(store, dispatcher.NewHTTPWebhookSender()).
		WithDrainTimeout(cfg.DispatcherDrainTimeout).
		WithMetrics(metricsSink)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("easyauto: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Wire analytics if Redis is configured
	var analyticsSink *analytics.RedisSink
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		analyticsSink = analytics.NewRedisSink(redisClient)
		disp = disp.WithAnalytics(analyticsSink)
		log.Printf("easyauto: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("easyauto: REDIS_ADDR not set; analytics disabled")
	}

	// Leader duties
	var leader duties

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, BatchSize: cfg.SchedulerBatchSize},
		store,
		runner,
	).WithMetrics(metricsSink)
	leader.add("scheduler", func(ctx context.Context) {
		sched.Run(ctx)
	})

	if cfg.ReconcileEnabled {
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				MaxAge:    cfg.ReconcileMaxAge,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			firingBus,
		).WithMetrics(metricsSink)
		leader.add("reconciler", recon.Run)
		log.Printf("easyauto: reconciler enabled (interval=%s, threshold=%s, max_age=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileMaxAge, cfg.ReconcileBatchSize)
	} else {
		log.Println("easyauto: RECONCILE_ENABLED not set; reconciler disabled")
	}

	if cfg.RulesFile != "" {
		watcher := rulefile.NewWatcher(cfg.RulesFile, func(ctx context.Context) error {
			if _, err := rulefile.Import(ctx, store, cfg.RulesFile, defaultProjectID, rulefile.WithActionTypes(registry.Types())); err != nil {
				return err
			}
			return runner.Reload(ctx)
		})
		leader.add("rules file watcher", func(ctx context.Context) {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("easyauto: rules file watcher error: %v", err)
			}
		})
	}

	apiHandler := api.NewHandler(store, defaultProjectID).
		WithHealthChecker(db).
		WithPublisher(domainBus).
		WithReloader(runner).
		WithActionCatalog(registry)
	if analyticsSink != nil {
		apiHandler = apiHandler.WithAnalytics(analyticsSink)
	}

	// Use separate contexts to enable ordered shutdown.
	dutiesCtx, cancelDuties := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	refreshCtx, cancelRefresh := context.WithCancel(context.Background())

	var electorWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var refreshWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			leader.start,
			leader.stop,
		).WithMetrics(metricsSink)
		apiHandler = apiHandler.WithLeaderStatus(elector)

		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(dutiesCtx)
		}()
		log.Printf("easyauto: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		leader.start(dutiesCtx)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("easyauto: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("easyauto: http server error: %v", err)
		}
	}()

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, firingBus.Channel())
	}()

	refreshWg.Add(1)
	go func() {
		defer refreshWg.Done()
		refreshRules(refreshCtx, cfg.RuleRefreshInterval, runner.Reload)
	}()

	log.Printf("easyauto: started (tick=%s, http=%s, rules=%d)", cfg.TickInterval, cfg.HTTPAddr, runner.Index().Len())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("easyauto: received signal %v, shutting down", received)

	// Phase 1: Stop leader duties (no new schedule firings or re-emits)
	log.Println("easyauto: stopping leader duties...")
	cancelDuties()
	electorWg.Wait()
	leader.stop()

	// Phase 2: Stop HTTP server (no new events published)
	log.Println("easyauto: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("easyauto: http server shutdown error: %v", err)
	}
	log.Println("easyauto: http server stopped")

	// Phase 3: Stop rule refresh
	cancelRefresh()
	refreshWg.Wait()

	// Phase 4: Close the firing bus, then stop the dispatcher (drains what is buffered)
	log.Printf("easyauto: stopping dispatcher (draining %d firings)...", firingBus.Len())
	firingBus.Close()
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("easyauto: dispatcher stopped")

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("easyauto: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("easyauto: metrics server shutdown error: %v", err)
		}
		log.Println("easyauto: metrics server stopped")
	}

	log.Println("easyauto: stopped")
	return exitSuccess
}
