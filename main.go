package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jirayu-w/eventseat/internal/di"
	"github.com/jirayu-w/eventseat/internal/engine"
	"github.com/jirayu-w/eventseat/internal/metrics"
	"github.com/jirayu-w/eventseat/internal/store"
	"github.com/jirayu-w/eventseat/pkg/config"
	"github.com/jirayu-w/eventseat/pkg/database"
	"github.com/jirayu-w/eventseat/pkg/logger"
	"github.com/jirayu-w/eventseat/pkg/middleware"
	pkgredis "github.com/jirayu-w/eventseat/pkg/redis"
	"github.com/jirayu-w/eventseat/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       "info",
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if cfg.App.Debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Service...")

	ctx := context.Background()

	// Tracing and metrics
	if err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal(fmt.Sprintf("Telemetry initialization failed: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Metrics initialization failed: %v", err))
	}

	// Event store backend
	var (
		eventStore  store.EventStore
		redisClient *pkgredis.Client
	)
	switch cfg.Engine.Store {
	case "redis":
		redisCfg := &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
		}
		redisClient, err = pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
		}
		defer redisClient.Close()

		redisStore := store.NewRedisEventStore(redisClient)
		if err := redisStore.LoadScripts(ctx); err != nil {
			appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
		}
		eventStore = redisStore
		appLog.Info("Using Redis event store")
	default:
		eventStore = store.NewMemoryEventStore()
		appLog.Info("Using in-memory event store")
	}

	// Ledger backend follows the event store: durable records need Postgres
	var (
		ledger store.Ledger
		db     *database.PostgresDB
	)
	if cfg.Engine.Store == "redis" {
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		}
		db, err = database.NewPostgres(ctx, dbCfg)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
		}
		defer db.Close()
		ledger = store.NewPostgresLedger(db.Pool())
		appLog.Info("Using Postgres ledger")
	} else {
		ledger = store.NewMemoryLedger()
		appLog.Info("Using in-memory ledger")
	}

	// Kafka event publisher
	var publisher engine.EventPublisher
	if cfg.Kafka.Enabled {
		publisher, err = engine.NewKafkaEventPublisher(ctx, &engine.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
			publisher = engine.NewNoOpEventPublisher()
		} else {
			appLog.Info("Kafka event publisher connected")
		}
	} else {
		publisher = engine.NewNoOpEventPublisher()
	}
	defer publisher.Close()

	container := di.NewContainer(&di.ContainerConfig{
		DB:             db,
		Redis:          redisClient,
		StoreBackend:   cfg.Engine.Store,
		EventStore:     eventStore,
		Ledger:         ledger,
		EventPublisher: publisher,
		EngineConfig: &engine.Config{
			MaxCASRetries: cfg.Engine.MaxCASRetries,
			MaxCapacity:   cfg.Engine.MaxCapacity,
		},
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		gin.DisableConsoleColor()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.App.Name))
	router.Use(requestMetricsMiddleware())

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	authCfg := &middleware.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": cfg.App.Name,
			})
		})

		events := v1.Group("/events")
		events.Use(middleware.AuthMiddleware(authCfg))

		// Event lifecycle is restricted to operators
		staffOnly := middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin)
		events.POST("", staffOnly, container.EventHandler.CreateEvent)
		events.PATCH("/:id/capacity", staffOnly, container.EventHandler.UpdateCapacity)
		events.DELETE("/:id", staffOnly, container.EventHandler.DeleteEvent)

		events.GET("", container.EventHandler.ListEvents)
		events.GET("/summary", container.EventHandler.GetSummary)
		events.GET("/:id", container.EventHandler.GetEvent)

		// Reservation writes carry idempotency keys through Redis when available
		reservationRoutes := events.Group("")
		if redisClient != nil {
			idemCfg := middleware.DefaultIdempotencyConfig(redisClient.Client())
			idemCfg.SkipPaths = []string{"/health", "/ready"}
			reservationRoutes.Use(middleware.IdempotencyMiddleware(idemCfg))
		}
		reservationRoutes.POST("/:id/bookings", container.ReservationHandler.Book)
		reservationRoutes.DELETE("/:id/bookings", container.ReservationHandler.Cancel)
		reservationRoutes.DELETE("/:id/waitlist", container.ReservationHandler.LeaveWaitlist)

		me := v1.Group("/me")
		me.Use(middleware.AuthMiddleware(authCfg))
		me.GET("/reservations", container.ReservationHandler.MyReservations)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Info(fmt.Sprintf("Reservation Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}

// requestMetricsMiddleware records request latency per route
func requestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequestDuration(
			c.Request.Context(),
			route,
			c.Request.Method,
			c.Writer.Status(),
			time.Since(start).Seconds(),
		)
	}
}
