package cmd

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registration-system/config"
	"registration-system/internal/forms"
	"registration-system/internal/handlers"
	"registration-system/internal/notify"
	"registration-system/internal/services"
	"registration-system/internal/storage/files"
	"registration-system/internal/storage/sqlite"
	"registration-system/internal/telemetry"
	_ "registration-system/migrations"
	"registration-system/monitoring"
	"registration-system/security"
	"registration-system/utils"
)

func Start() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	fileStore, err := files.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	defer fileStore.Close()

	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	monitor := monitoring.NewMonitor(store, cfg.MetricsInterval)
	cache := services.NewAvailabilityCache(redisClient, cfg.AvailabilityTTL)

	// Initialize services
	notificationService := services.NewNotificationService(store, newPublisher(cfg), monitor, cfg.DispatchBatchSize)
	registrationService := services.NewRegistrationService(
		store,
		forms.NewValidator(fileStore),
		services.NewCapacityLedger(cache, monitor),
		notificationService,
		monitor,
	)
	eventService := services.NewEventService(store, cache)

	// Initialize handlers
	eventHandler := handlers.NewEventHandler(eventService)
	registrationHandler := handlers.NewRegistrationHandler(registrationService)
	reviewHandler := handlers.NewReviewHandler(registrationService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	submitLimiter := security.NewRateLimiter(redisClient, "submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow)

	app := pocketbase.New()

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})
	app.RootCmd.AddCommand(newCapacityAuditCmd(store))

	// Start background tasks
	workers := []func(context.Context){
		func(ctx context.Context) { notificationService.Run(ctx, cfg.DispatchInterval) },
	}
	if cfg.EnableMetrics {
		workers = append(workers, monitor.Run)
	}
	// Deferred after the store and Redis client, so it runs before they close.
	defer runWorkers(ctx, workers...)()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	setupUserHooks(app)

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		api := se.Router.Group("/api/v1")

		// Event endpoints
		api.GET("/events", eventHandler.ListPublished)
		api.POST("/events", eventHandler.Create)
		api.GET("/events/{eventId}", eventHandler.Detail)
		api.PATCH("/events/{eventId}", eventHandler.Update)
		api.GET("/events/{eventId}/availability", eventHandler.Availability)
		api.GET("/manage/events", eventHandler.ListManaged)

		// Registration endpoints
		api.POST("/events/{eventId}/registrations", registrationHandler.Submit).BindFunc(submitLimiter.Middleware())
		api.GET("/registrations", registrationHandler.Mine)
		api.GET("/registrations/{registrationId}", registrationHandler.Get)
		api.POST("/registrations/{registrationId}/cancel", registrationHandler.Cancel)

		// Review endpoints
		api.GET("/events/{eventId}/registrations", reviewHandler.ListForEvent)
		api.POST("/events/{eventId}/registrations/approve", reviewHandler.BulkApprove)
		api.POST("/registrations/{registrationId}/approve", reviewHandler.Approve)
		api.POST("/registrations/{registrationId}/reject", reviewHandler.Reject)

		// Notification endpoints
		api.GET("/notifications", notificationHandler.Inbox)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		api.POST("/notifications/{notificationId}/read", notificationHandler.MarkRead)

		if cfg.EnableMetrics {
			se.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			ctx := e.Request.Context()
			if err := store.Ping(ctx); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			if err := utils.RedisHealthCheck(ctx, redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return se.Next()
	})

	return app.Start()
}

func newPublisher(cfg *config.Config) notify.Publisher {
	if !cfg.PushEnabled() {
		slog.Info("PubNub keys not set, push notifications disabled")
		return notify.Discard{}
	}

	settings := utils.DefaultBreakerSettings()
	settings.OnStateChange = func(name string, from, to utils.State) {
		slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	return notify.NewPubNubPublisher(notify.PubNubConfig{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UserID:       cfg.PubNubUserID,
	}, utils.NewCircuitBreaker("pubnub", settings))
}

// setupUserHooks keeps roles out of the hands of the users they describe. New
// accounts start as candidates; only superusers grant or change roles.
func setupUserHooks(app *pocketbase.PocketBase) {
	app.OnRecordCreateRequest("users").BindFunc(func(e *core.RecordRequestEvent) error {
		if !e.HasSuperuserAuth() || len(e.Record.GetStringSlice(handlers.RolesField)) == 0 {
			e.Record.Set(handlers.RolesField, []string{services.RoleCandidate})
		}
		return e.Next()
	})

	app.OnRecordUpdateRequest("users").BindFunc(func(e *core.RecordRequestEvent) error {
		if !e.HasSuperuserAuth() {
			e.Record.Set(handlers.RolesField, e.Record.Original().GetStringSlice(handlers.RolesField))
		}
		return e.Next()
	})
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, stopping background workers...")
	cancel()
}
