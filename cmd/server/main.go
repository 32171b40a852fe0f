package main

import (
	"context"
	"finadvisor/internal/config"
	"finadvisor/internal/database"
	"finadvisor/internal/handlers"
	"finadvisor/internal/jobs"
	"finadvisor/internal/logging"
	"finadvisor/internal/middleware"
	"finadvisor/internal/services"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting FinAdvisor Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabaseURL)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Redis is optional; without it sweeps are single-instance only
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (sweep lock disabled)", err)
			redisService = nil
		} else {
			defer redisService.Close()
			log.Println("✅ Redis connected successfully")
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - distributed sweep lock disabled")
	}

	// Core services
	auditService := services.NewAuditService(db)
	reminderService := services.NewReminderService(db, auditService)
	sessionService := services.NewSessionService(cfg.SessionTTL, cfg.SessionMaxHistory)

	// A missing symbols file is tolerated: extraction then accepts any
	// uppercase word shaped like a ticker.
	symbolService := services.NewSymbolService(cfg.SymbolsFile)

	intentService := services.NewIntentService(symbolService, cfg.ConfidenceFloor)

	provider, err := services.NewMarketGateway(cfg.MarketProvider)
	if err != nil {
		log.Fatalf("❌ Failed to initialize market gateway: %v", err)
	}
	marketGateway := services.NewCachedGateway(provider, 15*time.Second)
	log.Printf("✅ Market gateway initialized (provider: %s)", cfg.MarketProvider)

	advisorService := services.NewAdvisorService(
		sessionService, intentService, services.NewAnalysisService(),
		marketGateway, reminderService, auditService,
	)

	// Notification channel + dispatcher
	channel, err := services.NewNotificationChannel(cfg.NotifyChannel, cfg.WebhookURL)
	if err != nil {
		log.Fatalf("❌ Failed to initialize notification channel: %v", err)
	}
	notifierService := services.NewNotifierService(
		reminderService, auditService, channel,
		cfg.NotifyMaxAttempts, cfg.NotifyBackoffBase,
	)
	log.Printf("✅ Notification dispatcher initialized (channel: %s, max attempts: %d)",
		channel.Name(), cfg.NotifyMaxAttempts)

	// Trigger evaluator
	evaluatorService, err := services.NewEvaluatorService(
		reminderService, marketGateway, auditService, notifierService,
		redisService, cfg.SweepWorkers, cfg.QuoteStaleness,
	)
	if err != nil {
		log.Fatalf("❌ Failed to initialize trigger evaluator: %v", err)
	}
	if err := evaluatorService.Start(cfg.SweepInterval); err != nil {
		log.Fatalf("❌ Failed to start trigger evaluator: %v", err)
	}

	// Prometheus metrics
	services.InitMetrics(sessionService)
	log.Println("📊 Application metrics registered")

	// Hot-reload of the symbols file
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go func() {
		if err := symbolService.Watch(watchCtx); err != nil {
			log.Printf("⚠️ Symbols file watcher stopped: %v", err)
		}
	}()

	// Maintenance jobs
	jobScheduler := jobs.NewScheduler()
	jobScheduler.Register(jobs.NewAuditCheckpoint(auditService))
	jobScheduler.Register(jobs.NewRetentionCleanup(reminderService, cfg.ReminderRetention))
	jobScheduler.Start()

	// Verify the audit log once at boot rather than waiting a day
	if err := jobScheduler.RunNow("audit-checkpoint"); err != nil {
		log.Printf("🚨 Startup audit verification failed: %v", err)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "FinAdvisor v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("finadvisor")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Chat=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.ChatMax)

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-User-ID",
		AllowCredentials: allowedOrigins != "*",
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Routes
	app.Get("/health", handlers.NewHealthHandler(sessionService, db).Handle)

	api := app.Group("/api", middleware.UserContext())
	api.Post("/chat", middleware.ChatRateLimiter(rateLimitConfig), handlers.NewChatHandler(advisorService).Handle)

	reminderHandler := handlers.NewReminderHandler(reminderService)
	api.Get("/reminders", reminderHandler.List)
	api.Post("/reminders", reminderHandler.Create)
	api.Get("/reminders/:id", reminderHandler.Get)
	api.Delete("/reminders/:id", reminderHandler.Cancel)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("💬 Chat endpoint: http://localhost:%s/api/chat", cfg.Port)
	log.Printf("⏰ Trigger sweeps every %s with %d workers", cfg.SweepInterval, cfg.SweepWorkers)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()
		cancelWatch()

		if err := evaluatorService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping evaluator: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
