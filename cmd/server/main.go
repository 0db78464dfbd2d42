package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/orchestrator/internal/auth"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/handler"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/observability"
	"github.com/makeasinger/orchestrator/internal/store"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
	"github.com/makeasinger/orchestrator/internal/worker"
	"github.com/makeasinger/orchestrator/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Generation backends, in priority order
	wrapperClient := client.NewWrapperClient(&cfg.Wrapper)
	sunoClient := client.NewSunoAPIClient(&cfg.Suno)

	var descriptors []generation.Descriptor
	if cfg.Wrapper.Enabled && wrapperClient.IsConfigured() {
		descriptors = append(descriptors, wrapperClient.Descriptor(&cfg.Wrapper))
	}
	if cfg.Suno.Enabled && sunoClient.IsConfigured() {
		descriptors = append(descriptors, sunoClient.Descriptor(&cfg.Suno))
	} else if cfg.Suno.Enabled {
		log.Println("Info: SUNO_API_KEY not set, fallback backend disabled")
	}
	registry, err := generation.NewRegistry(descriptors...)
	if err != nil {
		log.Fatalf("Failed to build backend registry: %v", err)
	}
	if registry.Len() == 0 {
		log.Println("Warning: no generation backends configured, every submission will fail")
	}

	// Initialize R2 client (optional - archiving is skipped if not configured)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, track manifests will not be archived")
	}

	directNotifier := generation.NewDirectNotifier(registry, metrics, cfg.Generation.CancelTimeout)
	var notifier generation.CancelNotifier = directNotifier
	var queueNotifier *worker.QueueNotifier
	if cfg.Generation.UseQueue {
		queueNotifier = worker.NewQueueNotifier(asynqClient, directNotifier)
		notifier = queueNotifier
	}

	manager := generation.NewManager(registry, notifier, metrics, generation.ManagerConfig{
		Poller: generation.PollerConfig{
			Interval:        cfg.Generation.PollInterval,
			TickBudget:      cfg.Generation.TickBudget,
			TransientBudget: cfg.Generation.TransientBudget,
		},
		MaxTextLength: cfg.Generation.MaxTextLength,
		Retention:     cfg.Generation.Retention,
	})

	// Hooks run in order: the snapshot must be stored before it is archived
	snapshots := store.NewSnapshotStore(redisClient, cfg.Generation.SnapshotTTL)
	manager.OnTransition(snapshots.Hook())
	manager.OnTransition(hub.Hook(func(snap model.Snapshot) generation.Progress {
		return manager.Project(snap, time.Now())
	}))
	if cfg.Generation.UseQueue && r2Client != nil {
		manager.OnTransition(worker.ArchiveHook(asynqClient))
	}

	// Pick up jobs that were active when the previous process stopped
	resumeActiveJobs(ctx, manager, snapshots)

	generateHandler := handler.NewGenerateHandler(manager, snapshots, hub, cfg.Generation.CancelTimeout)
	if cfg.Generation.UseQueue && r2Client != nil {
		generateHandler.WithManifests(r2Client, cfg.Generation.ManifestLinkExpiry)
	}

	var tokenVerifier auth.TokenVerifier
	if cfg.JWT.JWKSURL != "" || cfg.JWT.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(auth.JWKSConfig{
			JWKSURL:  cfg.JWT.JWKSURL,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		})
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		backends := fiber.Map{}
		for _, d := range registry.Ordered() {
			backends[d.Name] = fiber.Map{"priority": d.Priority, "degraded": d.Degraded}
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"backends": backends,
			"services": fiber.Map{
				"r2":   r2Client != nil,
				"auth": cfg.Gateway.Enabled || tokenVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(observability.MetricsHandler()))

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	generate := api.Group("/generate")
	generate.Post("/", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generateHandler.Start)
	generate.Get("/status/:jobId", generateHandler.Status)
	generate.Get("/result/:jobId", generateHandler.Result)
	generate.Post("/cancel/:jobId", generateHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, apiAuthMiddleware)

	app.Get("/ws/jobs/:jobId", websocket.New(generateHandler.Watch))

	// Start Asynq worker server
	workerServer := startWorkerServer(cfg, redisOpt, directNotifier, snapshots, r2Client)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	// Active jobs keep their snapshots and are resumed on the next start
	manager.Shutdown()
	if queueNotifier != nil {
		queueNotifier.Wait()
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	stop()
	log.Println("Server stopped")
}

func resumeActiveJobs(ctx context.Context, manager *generation.Manager, snapshots *store.SnapshotStore) {
	active, err := snapshots.ListActive(ctx)
	if err != nil {
		log.Printf("Warning: could not list active jobs: %v", err)
		return
	}
	for _, snap := range active {
		if err := manager.Resume(snap); err != nil {
			log.Printf("Warning: job %s not resumed: %v", snap.Handle.ID, err)
		}
	}
	if len(active) > 0 {
		log.Printf("Resumed %d active generation jobs", len(active))
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	notifier *generation.DirectNotifier,
	snapshots *store.SnapshotStore,
	r2Client *client.R2Client,
) *asynq.Server {
	if !cfg.Generation.UseQueue {
		return nil
	}

	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				worker.QueueCancel:  6,
				worker.QueueArchive: 4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeCancel, worker.NewCancelWorker(notifier).ProcessTask)
	if r2Client != nil {
		mux.HandleFunc(worker.TaskTypeArchive, worker.NewArchiveWorker(snapshots, r2Client).ProcessTask)
	}

	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
		return nil
	}
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
