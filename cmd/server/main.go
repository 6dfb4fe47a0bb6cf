package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/infrastructure/cache"
	"github.com/billing/backend/internal/infrastructure/config"
	"github.com/billing/backend/internal/infrastructure/event"
	"github.com/billing/backend/internal/infrastructure/logger"
	"github.com/billing/backend/internal/infrastructure/notification"
	"github.com/billing/backend/internal/infrastructure/payment"
	"github.com/billing/backend/internal/infrastructure/persistence"
	"github.com/billing/backend/internal/interfaces/http/handler"
	"github.com/billing/backend/internal/interfaces/http/middleware"
	"github.com/billing/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Billing Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize repositories
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)

	// Initialize event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Idempotency store for webhook deliveries: Redis when configured,
	// otherwise a process-local store suitable for single-instance deployments
	var idempotencyStore shared.IdempotencyStore
	if cfg.Redis.Host != "" {
		redisStore, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		idempotencyStore = redisStore
		log.Info("Using Redis idempotency store",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
		)
	} else {
		idempotencyStore = cache.NewInMemoryIdempotencyStore()
		log.Warn("Redis not configured, using in-memory idempotency store")
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Payment provider adapter
	provider, err := payment.NewStripeProvider(&payment.StripeConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize payment provider", zap.Error(err))
	}

	// Notification gateway
	mailer := notification.NewLogMailer(log)

	// Initialize application services
	invoiceService := billingapp.NewInvoiceService(billingapp.InvoiceServiceConfig{
		InvoiceRepo:    invoiceRepo,
		NumberGen:      invoiceRepo,
		EventPublisher: eventBus,
		Mailer:         mailer,
		Logger:         log,
	})
	reconciler := billingapp.NewReconciler(billingapp.ReconcilerConfig{
		Provider:       provider,
		InvoiceRepo:    invoiceRepo,
		Idempotency:    idempotencyStore,
		EventPublisher: eventBus,
		Mailer:         mailer,
		Locks:          invoiceService.Locks(),
		Logger:         log,
		IdempotencyTTL: cfg.Reconciler.IdempotencyTTL,
		LookupTimeout:  cfg.Reconciler.LookupTimeout,
		SaveRetries:    cfg.Reconciler.SaveRetries,
	})

	// Initialize HTTP handlers
	invoiceHandler := handler.NewInvoiceHandler(invoiceService)
	webhookHandler := handler.NewWebhookHandler(reconciler)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Provider webhook endpoint (no tenant context required)
	// The payment provider calls this directly; tenant resolution happens
	// through payment intent correlation inside the reconciler
	engine.POST("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Billing domain routes, tenant-scoped except the cross-tenant sweep
	tenantCfg := middleware.DefaultTenantConfig()
	tenantCfg.SkipPaths = append(tenantCfg.SkipPaths, "/api/v1/billing/invoices/sweep-overdue")
	tenantCfg.Logger = log

	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.Use(middleware.TenantMiddlewareWithConfig(tenantCfg))
	billingRoutes.POST("/invoices", invoiceHandler.Create)
	billingRoutes.GET("/invoices", invoiceHandler.List)
	billingRoutes.POST("/invoices/sweep-overdue", invoiceHandler.RunOverdueSweep)
	billingRoutes.GET("/invoices/number/:number", invoiceHandler.GetByNumber)
	billingRoutes.GET("/invoices/:id", invoiceHandler.GetByID)
	billingRoutes.POST("/invoices/:id/line-items", invoiceHandler.AddLineItem)
	billingRoutes.DELETE("/invoices/:id/line-items/:itemId", invoiceHandler.RemoveLineItem)
	billingRoutes.PUT("/invoices/:id/tax", invoiceHandler.SetTax)
	billingRoutes.POST("/invoices/:id/send", invoiceHandler.Send)
	billingRoutes.POST("/invoices/:id/cancel", invoiceHandler.Cancel)
	billingRoutes.POST("/invoices/:id/payments", invoiceHandler.RecordPayment)
	billingRoutes.PUT("/invoices/:id/payment-intent", invoiceHandler.AttachPaymentIntent)

	r.Register(billingRoutes)
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Background overdue sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Sweep.Enabled {
		go runOverdueSweepLoop(sweepCtx, invoiceService, cfg.Sweep, log)
		log.Info("Overdue sweep enabled",
			zap.Duration("interval", cfg.Sweep.Interval),
			zap.Int("batch_size", cfg.Sweep.BatchSize),
		)
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// runOverdueSweepLoop periodically transitions sent invoices past their due
// date to OVERDUE until the context is cancelled
func runOverdueSweepLoop(ctx context.Context, svc *billingapp.InvoiceService, cfg config.SweepConfig, log *zap.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			swept, err := svc.RunOverdueSweep(ctx, now, cfg.BatchSize)
			if err != nil {
				log.Error("Overdue sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				log.Info("Overdue sweep completed", zap.Int("swept", swept))
			}
		}
	}
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
