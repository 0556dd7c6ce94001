// Command controlplane is the sandboxctl control plane API server (spec
// §4, §6): it owns Postgres, fronts the external and internal HTTP
// surfaces, and drives the four background sweeps (reaper, heartbeat
// sweeper, state reconciler, warm-pool replenisher) on a shared cron
// schedule.
//
// Grounded on the teacher's api/cmd/main.go: sequential dependency
// construction, a gin router handed to an http.Server with hardened
// timeouts, a goroutine-run ListenAndServe, and SIGINT/SIGTERM-triggered
// graceful shutdown with a bounded context.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kweaver-ai/sandboxctl/internal/api"
	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/config"
	"github.com/kweaver-ai/sandboxctl/internal/containersched"
	dockersched "github.com/kweaver-ai/sandboxctl/internal/containersched/docker"
	k8ssched "github.com/kweaver-ai/sandboxctl/internal/containersched/kubernetes"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/execution"
	"github.com/kweaver-ai/sandboxctl/internal/jobsched"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/models"
	"github.com/kweaver-ai/sandboxctl/internal/reconcile"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	database, err := db.NewDatabase(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	sessionsDB := db.NewSessionDB(database.DB())
	templatesDB := db.NewTemplateDB(database.DB())
	containersDB := db.NewContainerDB(database.DB())
	nodesDB := db.NewNodeDB(database.DB())
	artifactsDB := db.NewArtifactDB(database.DB())
	executionsDB := db.NewExecutionDB(database.DB())

	publisher, err := events.NewPublisher(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer publisher.Close()

	subscriber, err := events.NewSubscriber(cfg.NATS, sessionsDB, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start NATS subscriber")
	}
	defer subscriber.Close()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if subscriber.IsEnabled() {
		if err := subscriber.Start(runCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to NATS subjects")
		}
	}

	redisCache, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer redisCache.Close()

	objectStore, err := storage.NewS3Store(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to object storage")
	}

	schedulers := buildSchedulers(cfg, log)

	warmPool := scheduler.NewWarmPool()
	sched := scheduler.New(nodesDB, warmPool)

	manager := lifecycle.NewManager(sessionsDB, templatesDB, sched, publisher, objectStore, cfg.Lifecycle)
	engine := execution.NewEngine(executionsDB, sessionsDB, templatesDB, artifactsDB, cfg.Execution)

	reconciler := reconcile.New(sessionsDB, nodesDB, manager, publisher, schedulers, cfg.Reconcile)
	reaper := lifecycle.NewReaper(manager, cfg.ReaperInterval)
	sweeper := execution.NewSweeper(engine, cfg.HeartbeatSweepInterval)

	var replenisher *scheduler.Replenisher
	if creator := defaultCreator(schedulers, cfg.Lifecycle.Runtime); creator != nil {
		replenisher = scheduler.NewReplenisher(warmPool, templatesDB, nodesDB, creator)
	}

	jobs := jobsched.New()
	mustSchedule(jobs, "reaper", cfg.ReaperInterval, func() { reaper.RunOnce(runCtx) })
	mustSchedule(jobs, "heartbeat-sweeper", cfg.HeartbeatSweepInterval, func() { sweeper.RunOnce(runCtx) })
	mustSchedule(jobs, "reconciler", cfg.Reconcile.Interval, func() { reconciler.RunOnce(runCtx) })
	if replenisher != nil {
		replenisher.StartWorkers(runCtx)
		mustSchedule(jobs, "replenisher", cfg.ReplenishInterval, func() {
			if err := replenisher.RunOnce(runCtx); err != nil {
				log.Warn().Err(err).Msg("replenisher sweep failed")
			}
		})
	}
	jobs.Start()
	defer jobs.Stop()

	externalAuth, err := middleware.NewExternalBearerAuth(cfg.ExternalAPISecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize external API auth")
	}
	internalAuth := middleware.NewInternalBearerAuth(cfg.InternalAPISecret)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}

	router := api.NewRouter(api.Deps{
		Sessions:     manager,
		Executions:   engine,
		Templates:    templatesDB,
		SessionsDB:   sessionsDB,
		Containers:   containersDB,
		Nodes:        nodesDB,
		Schedulers:   schedulers,
		Store:        objectStore,
		Cache:        redisCache,
		Health:       &api.HealthChecker{DB: database.DB(), Schedulers: schedulers},
		ExternalAuth: externalAuth,
		InternalAuth: internalAuth,
		RateLimit:    rateLimiter,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control plane server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control plane forced to shut down")
	} else {
		log.Info().Msg("control plane stopped gracefully")
	}
}

// buildSchedulers constructs a direct in-process client for every runtime
// this control plane instance is configured to reach. An empty
// KubernetesNamespace leaves the Kubernetes entry absent; the Docker entry
// is built whenever DockerHost is set or KubernetesNamespace is empty (an
// empty DockerHost then uses the Docker SDK's environment default). A
// runtime without an entry is reached only over NATS, through its own
// cmd/docker-scheduler or cmd/k8s-scheduler process (spec §4.4).
func buildSchedulers(cfg config.Config, log *zerolog.Logger) map[string]containersched.ContainerScheduler {
	schedulers := map[string]containersched.ContainerScheduler{}

	if cfg.DockerHost != "" || cfg.KubernetesNamespace == "" {
		adapter, err := dockersched.New(cfg.DockerHost)
		if err != nil {
			log.Warn().Err(err).Msg("docker scheduler adapter unavailable, skipping direct client")
		} else {
			schedulers[events.RuntimeDocker] = adapter
		}
	}

	if cfg.KubernetesNamespace != "" {
		adapter, err := k8ssched.New(cfg.KubernetesNamespace)
		if err != nil {
			log.Warn().Err(err).Msg("kubernetes scheduler adapter unavailable, skipping direct client")
		} else {
			schedulers[events.RuntimeKubernetes] = adapter
		}
	}

	return schedulers
}

// defaultCreator adapts whichever ContainerScheduler backs the lifecycle
// manager's default runtime into the narrower ContainerCreator the warm
// pool replenisher needs, resolving the IP/executor-port pair from a
// status lookup since CreateContainer itself only returns the scheduler
// native ID.
func defaultCreator(schedulers map[string]containersched.ContainerScheduler, runtime string) scheduler.ContainerCreator {
	sched, ok := schedulers[runtime]
	if !ok {
		return nil
	}
	port := dockersched.ExecutorPort
	if runtime == events.RuntimeKubernetes {
		port = k8ssched.ExecutorPort
	}
	return &schedulerContainerCreator{sched: sched, executorPort: port}
}

// schedulerContainerCreator adapts a single-runtime ContainerScheduler into
// the scheduler.ContainerCreator the warm pool replenisher needs, resolving
// the container's IP from a status lookup since CreateContainer itself only
// returns the scheduler-native ID.
type schedulerContainerCreator struct {
	sched        containersched.ContainerScheduler
	executorPort int
}

func (c *schedulerContainerCreator) CreateContainer(ctx context.Context, cfg models.ContainerConfig) (containerID, ip string, executorPort int, err error) {
	containerID, err = c.sched.CreateContainer(ctx, cfg)
	if err != nil {
		return "", "", 0, err
	}
	info, err := c.sched.GetContainerStatus(ctx, containerID)
	if err != nil {
		return "", "", 0, err
	}
	return containerID, info.IP, c.executorPort, nil
}

func mustSchedule(jobs *jobsched.Scheduler, name string, interval time.Duration, job func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	if err := jobs.ScheduleEvery(name, interval.String(), job); err != nil {
		logger.GetLogger().Fatal().Err(err).Str("job", name).Msg("failed to schedule background job")
	}
}
