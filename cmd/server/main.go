package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"go-livechat/internal/auth"
	"go-livechat/internal/chat"
	"go-livechat/internal/config"
	"go-livechat/internal/db"
	myMiddleware "go-livechat/internal/middleware"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, closeLog := config.SetupLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Server, logger); err != nil {
		logger.Error("❌ Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	hubOpts := []chat.HubOption{chat.WithLogger(logger)}

	// 2. Transcript archive (optional)
	if cfg.DBDSN != "" {
		database, err := db.NewDatabase(cfg.DBDSN)
		if err != nil {
			return err
		}
		defer database.Close()
		logger.Info("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(); err != nil {
			return err
		}
		logger.Info("✅ Database Schema Initialized")
		hubOpts = append(hubOpts, chat.WithArchive(chat.NewRepository(database.Conn)))
	} else {
		logger.Warn("DB_DSN is not set, transcripts live in memory only")
	}

	// 3. Fan-out between instances
	var broker chat.Broker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			redisClient.Close()
			return err
		}
		logger.Info("✅ Connected to Redis", "channel", cfg.RedisChannel)
		broker = chat.NewRedisBroker(redisClient, cfg.RedisChannel, logger)
	} else {
		logger.Warn("REDIS_ADDR is not set, running as a single instance")
		broker = chat.NewLocalBroker()
	}
	defer broker.Close()

	// 4. Hub
	hub := chat.NewHub(broker, hubOpts...)
	if err := hub.Subscribe(ctx); err != nil {
		return err
	}
	go hub.Run(ctx)

	// 5. Auth
	var validator myMiddleware.TokenValidator = auth.NewValidator(cfg.JWTSecret)
	requireAdminAuth := cfg.JWTSecret != ""
	if !requireAdminAuth {
		logger.Warn("JWT_SECRET is not set, admin connections are not authenticated")
	}
	authMiddleware := myMiddleware.NewAuthMiddleware(validator)

	chatHandler := chat.NewHandler(hub, chat.HandlerConfig{
		RequireAdminAuth: requireAdminAuth,
		RateLimit:        rate.Limit(cfg.RateLimit),
		RateBurst:        cfg.RateBurst,
		Logger:           logger,
	})

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Customers connect anonymously; admins present a token.
	r.With(authMiddleware.Optional).Get("/ws", chatHandler.ServeWs)

	r.Group(func(r chi.Router) {
		if requireAdminAuth {
			r.Use(authMiddleware.Handle)
		}
		r.Get("/api/sessions", chatHandler.ListSessions)
		r.Get("/api/sessions/{sessionID}/messages", chatHandler.GetTranscript)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server starting", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
