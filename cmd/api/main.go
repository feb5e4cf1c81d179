package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"

	"github.com/capliquify/capliquify-backend/internal/auth"
	"github.com/capliquify/capliquify-backend/internal/identity"
	"github.com/capliquify/capliquify-backend/internal/tenancy/cache"
	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/internal/tenancy/events"
	"github.com/capliquify/capliquify-backend/internal/tenancy/handler"
	tenancymw "github.com/capliquify/capliquify-backend/internal/tenancy/middleware"
	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/internal/tenancy/service"
	"github.com/capliquify/capliquify-backend/internal/webhook"
	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/httputil"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/messaging"
	"github.com/capliquify/capliquify-backend/pkg/metrics"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("api", cfg.Server.Environment)
	log.Info().Msg("starting tenancy API")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Schema-scoped session pool for tenant-scoped queries
	pool := database.NewSessionPool(&cfg.Database, log)
	defer pool.Close()

	// Tenant directory cache (optional; resolver falls through to the DB)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	tenantCache := cache.New(redisClient, cfg.Redis.TTL, log)

	// Lifecycle event publishing (optional)
	var rmq *messaging.RabbitMQ
	var lifecyclePublisher events.Publisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeTenantEvents, "tenancy-api", log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		lifecyclePublisher = publisher
	}
	lifecycle := events.NewLifecycleEventPublisher(lifecyclePublisher, log)

	// Initialize repositories
	tenantRepo := repository.NewTenantRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db, log)
	schemaManager := repository.NewSchemaManager(db)

	// Identity-provider client (nil when no base URL is configured)
	identityClient := identity.New(&cfg.Identity)

	// Provisioning orchestrator
	provisioningService := service.NewProvisioningService(
		db, tenantRepo, userRepo, auditRepo, schemaManager,
		identityClient, tenantCache, lifecycle, log,
	)

	// Webhook verification and dispatch
	verifier, err := webhook.NewVerifier(&cfg.Webhook)
	if err != nil {
		if cfg.Server.Environment == config.EnvProduction || cfg.Server.Environment == config.EnvStaging {
			log.Fatal().Err(err).Msg("webhook verifier unavailable")
		}
		log.Warn().Err(err).Msg("webhook endpoint disabled")
	}
	processor := webhook.NewProcessor(auditRepo, log)
	webhook.RegisterDefaultHandlers(processor, provisioningService, log)

	// Auth and tenant resolution middleware
	authManager := auth.NewManager(&cfg.Auth)
	resolver := tenancymw.NewResolver(tenantRepo, userRepo, tenantCache, cfg.Billing.UpgradeURL, log)

	// Initialize handlers
	tenantHandler := handler.NewTenantHandler(provisioningService, log)
	userHandler := handler.NewUserHandler(provisioningService, log)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		live, checkedOut := pool.Stats()
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  "tenancy-api",
			"database": db.Health(r.Context()),
			"pool": map[string]int{
				"live_sessions": live,
				"checked_out":   checkedOut,
			},
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		if count, err := tenantRepo.CountActive(r.Context()); err == nil {
			health["tenants"] = count
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	// Metrics
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Onboarding (public; callers are backend integrations)
		r.Post("/tenants", tenantHandler.Create)
		r.Get("/tenants/slug-availability", tenantHandler.SlugAvailability)

		// Identity-provider webhook (signature-verified)
		if verifier != nil {
			r.Method(http.MethodPost, "/webhooks/identity", webhook.NewHTTPHandler(verifier, processor, log))
		}

		// Tenant-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(authManager))
			r.Use(resolver.Middleware())

			r.Get("/tenant", tenantHandler.Current)

			r.Group(func(r chi.Router) {
				r.Use(tenancymw.RequireWrite)
				r.Use(tenancymw.RequireRole(domain.RoleAdmin, domain.RoleOwner))
				r.Patch("/users/{id}/role", userHandler.ChangeRole)
			})
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
