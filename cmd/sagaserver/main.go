// Command sagaserver wires the saga orchestration core together: config,
// Postgres-backed stores, the handler registry, the saga and service
// lifecycle orchestrators, and the HTTP facade, then serves until a
// shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dotmac/ispsaga/domain/crm"
	"github.com/dotmac/ispsaga/domain/ipv4"
	"github.com/dotmac/ispsaga/domain/ipv6"
	"github.com/go-redis/redis/v8"

	"github.com/dotmac/ispsaga/infrastructure/collaborators"
	"github.com/dotmac/ispsaga/infrastructure/collaborators/radiuscoa"
	"github.com/dotmac/ispsaga/infrastructure/config"
	"github.com/dotmac/ispsaga/infrastructure/database"
	"github.com/dotmac/ispsaga/infrastructure/httpapi"
	"github.com/dotmac/ispsaga/infrastructure/httpapi/events"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/infrastructure/middleware"
	"github.com/dotmac/ispsaga/infrastructure/ratelimit"
	"github.com/dotmac/ispsaga/infrastructure/resilience"
	"github.com/dotmac/ispsaga/orchestration/handlers"
	"github.com/dotmac/ispsaga/orchestration/facade"
	"github.com/dotmac/ispsaga/orchestration/saga"
	"github.com/dotmac/ispsaga/orchestration/servicelifecycle"
	"github.com/dotmac/ispsaga/pkg/metrics"
	"github.com/dotmac/ispsaga/pkg/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("sagaserver", cfg.Logging.Level, cfg.Logging.Format)
	audit := logging.NewAuditLogger()
	defer func() { _ = audit.Sync() }()

	dsn := cfg.Database.DSN
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(dsn); err != nil {
			logger.WithField("error", err.Error()).Fatal("run migrations")
		}
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("open database")
	}
	defer db.Close()

	workflows := database.NewWorkflowStore(db)
	steps := database.NewStepStore(db)
	instances := database.NewInstanceStore(db)
	svcEvents := database.NewEventStore(db)
	profiles := database.NewSubscriberStore(db)
	customers := crm.NewMemoryStore()

	ipamClient := collaborators.NewNoopIPAMClient()
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	coaClient := radiuscoa.New(collaborators.NewNoopRadiusCoAClient(), redisClient)
	ipv4Machine := ipv4.New(profiles, ipamClient, coaClient, logger)
	ipv6Machine := ipv6.New(profiles, ipamClient, coaClient, logger)

	deps := &handlers.Deps{
		CRM:              customers,
		Profiles:         profiles,
		Services:         instances,
		IPv4:             ipv4Machine,
		IPv6:             ipv6Machine,
		RadiusAccounting: collaborators.NewNoopRadiusAccountingClient(),
		RadiusCoA:        coaClient,
		AccessNode:       collaborators.NewNoopAccessNodeManager(),
		CPE:              collaborators.NewNoopCPEManager(),
		Billing:          collaborators.NewNoopBillingService(),
		Limiter:          collaborators.NewCallLimiter(ratelimit.DefaultConfig()),
		Log:              logger,
	}

	registry := handlers.NewRegistry()
	handlers.RegisterProvisionHandlers(registry, deps)
	handlers.RegisterDeprovisionHandlers(registry, deps)
	handlers.RegisterServiceOperationHandlers(registry, deps)

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  cfg.Orchestration.MaxStepRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
	sagaOrch := saga.New(registry, workflows, steps, logger, retryCfg)

	hub := events.NewHub()
	svcOrch := servicelifecycle.New(instances, svcEvents, workflows, sagaOrch, ipv6Machine, logger).
		WithIPv4(ipv4Machine).
		WithAudit(audit).
		WithBroadcaster(hub)

	scheduler := servicelifecycle.NewScheduler(svcOrch, logger)
	pollSpec := fmt.Sprintf("@every %ds", cfg.Orchestration.PollIntervalSecs)
	if err := scheduler.Start(context.Background(), pollSpec, pollSpec); err != nil {
		logger.WithField("error", err.Error()).Fatal("start scheduler")
	}

	f := facade.New(sagaOrch, workflows, steps)
	health := httpapi.NewHealthChecker(version.Version, func() error { return db.Ping() })
	apiServer := httpapi.NewServer(f, logger, health.Handler())

	rec := metrics.NewRecorder(nil)
	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws/events", hub.ServeHTTP)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":%q}`, version.FullVersion())
	})

	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: strings.Split(cfg.Server.CORSAllowedOrigins, ","),
	})
	timeout := middleware.NewTimeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second)
	tracing := middleware.NewTracingMiddleware(logger)
	recovery := middleware.NewRecoveryMiddleware(logger)

	handler := middleware.MetricsMiddleware("ispsaga", rec)(
		recovery.Handler(
			tracing.Handler(
				timeout.Handler(
					cors.Handler(mux)))))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 30*time.Second)
	shutdown.OnShutdown(scheduler.Stop)
	shutdown.ListenForSignals()

	logger.WithField("addr", addr).Info("starting ispsaga server")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithField("error", err.Error()).Fatal("server failed")
	}
	shutdown.Wait()
}
