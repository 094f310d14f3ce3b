package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/fortunelab/fortune-gateway/internal/api"
	"github.com/fortunelab/fortune-gateway/internal/config"
	"github.com/fortunelab/fortune-gateway/internal/services/cache"
	"github.com/fortunelab/fortune-gateway/internal/services/conversation"
	"github.com/fortunelab/fortune-gateway/internal/services/database"
	"github.com/fortunelab/fortune-gateway/internal/services/fortune"
	"github.com/fortunelab/fortune-gateway/internal/services/provider"
	"github.com/fortunelab/fortune-gateway/internal/services/request"
	"github.com/fortunelab/fortune-gateway/internal/services/users"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// Gateway represents a fortune gateway server instance.
type Gateway struct {
	config *config.Config
	app    *fiber.App
	redis  *redis.Client
	db     *database.DB
}

// New creates a new Gateway instance with the given configuration.
// The cfg parameter is required and must not be nil.
func New(cfg *config.Config) *Gateway {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() to create config")
	}

	return &Gateway{config: cfg}
}

// Run starts the gateway server and blocks until shutdown.
func (g *Gateway) Run() error {
	if err := g.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(g.config)

	port := g.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	g.app = createFiberApp(g.config)

	db, redisClient, err := initializeInfrastructure(g.config)
	if err != nil {
		return err
	}
	g.db = db
	g.redis = redisClient

	if g.redis != nil {
		defer func() {
			if err := g.redis.Close(); err != nil {
				fiberlog.Errorf("Failed to close Redis client: %v", err)
			}
		}()
	}
	defer func() {
		if err := g.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	setupMiddleware(g.app, g.config)
	setupRoutes(g.app, g.config, g.db, g.redis)

	g.app.Get("/", welcomeHandler())

	fmt.Printf("Fortune gateway starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", g.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := g.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		fiberlog.Info("Context cancelled, starting shutdown...")
	}

	fiberlog.Info("Server shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- g.app.ShutdownWithTimeout(30 * time.Second)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "FortuneGateway v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		// Streamed readings can outlive the write timeout on slow
		// providers, so it stays generous.
		WriteTimeout:   5 * time.Minute,
		IdleTimeout:    5 * time.Minute,
		ReadBufferSize: 8192,
		Prefork:        false,
		CaseSensitive:  true,
		StrictRouting:  false,
		Network:        "tcp",
		ServerHeader:   "FortuneGateway",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()
	allowedOrigins := cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:               300,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "300 requests per minute")
		},
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, User-Agent, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		MaxAge:        86400,
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
	}))
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - entry cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			fiberlog.Errorf("Failed to close Redis client after connection failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	fiberlog.Info("Redis connection established successfully")
	return client, nil
}

func initializeInfrastructure(cfg *config.Config) (*database.DB, *redis.Client, error) {
	redisClient, err := createRedisClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if err := db.Migrate(); err != nil {
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	return db, redisClient, nil
}

func setupRoutes(app *fiber.App, cfg *config.Config, db *database.DB, redisClient *redis.Client) {
	reqSvc := request.NewBaseService()

	var store cache.Store = cache.NewGormStore(db)
	if redisClient != nil {
		store = cache.NewRedisStore(store, redisClient)
	}

	providers := provider.NewRegistry(cfg.Providers, cfg.DefaultProvider)
	usersSvc := users.NewService(db)

	fortuneSvc := fortune.NewService(store, providers, usersSvc, cfg.Replay)
	convSvc := conversation.NewService(store, providers, cfg.Conversation)

	fortuneHandler := api.NewFortuneHandler(reqSvc, fortuneSvc)
	convHandler := api.NewConversationHandler(reqSvc, convSvc)
	tipsHandler := api.NewTipsHandler(reqSvc)
	healthHandler := api.NewHealthHandler(db, redisClient)

	app.Get("/health", healthHandler.HealthCheck)

	v1Group := app.Group("/api/v1")
	v1Group.Get("/fortune", fortuneHandler.Generate)
	v1Group.Get("/fortune/conversation", convHandler.GetConversation)
	v1Group.Post("/fortune/conversation", convHandler.Continue)
	v1Group.Get("/fortune/decor", convHandler.DeskDecor)
	v1Group.Get("/tips", tipsHandler.GetTip)
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Welcome to FortuneGateway!",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"fortune":      "/api/v1/fortune",
				"conversation": "/api/v1/fortune/conversation",
				"decor":        "/api/v1/fortune/decor",
				"tips":         "/api/v1/tips",
				"health":       "/health",
			},
		})
	}
}
