// Package main runs the classroom engagement HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/engagement/config"
	"github.com/aura-classroom/engagement/internal/auth"
	"github.com/aura-classroom/engagement/internal/coordinator"
	"github.com/aura-classroom/engagement/internal/directory/memory"
	"github.com/aura-classroom/engagement/internal/directory/postgres"
	"github.com/aura-classroom/engagement/internal/middleware"
	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/polls"
	"github.com/aura-classroom/engagement/internal/questions"
	"github.com/aura-classroom/engagement/internal/realtime"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/database"
	"github.com/aura-classroom/engagement/pkg/metrics"
	"github.com/aura-classroom/engagement/pkg/queue"
	"github.com/aura-classroom/engagement/pkg/redis"
	"github.com/aura-classroom/engagement/pkg/response"
)

// directoryStore is everything the server needs from the directory.
type directoryStore interface {
	coordinator.SessionStore
	polls.Store
	questions.Store
	CreateSession(ctx context.Context, s *models.Session) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	ctx := context.Background()
	m := metrics.New()

	var store directoryStore
	switch cfg.Engagement.DirectoryDriver {
	case config.DriverMemory:
		store = memory.New()
		logger.Warn("using in-memory directory; state is lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = postgres.New(pool)
	}
	seedSessions(ctx, store, cfg.Engagement.SeedSessions, logger)

	var (
		backplane realtime.Backplane
		archiver  coordinator.Archiver
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		if cfg.Redis.Backplane {
			backplane = realtime.NewRedisBackplane(rdb.Client, logger)
			logger.Info("redis backplane enabled")
		}
		if cfg.Redis.Queue {
			archiver = queue.NewQueue(rdb.Client, logger)
		}
	}

	registry := realtime.NewRegistry()
	router := realtime.NewRouter(registry, backplane, logger, m)
	pollEngine := polls.NewEngine(store, router, polls.Config{
		MaxOptions:   cfg.Engagement.PollMaxOptions,
		StoreTimeout: cfg.Engagement.StoreTimeout,
	}, logger, m)
	questionEngine := questions.NewEngine(store, router, questions.Config{
		MaxTextLength: cfg.Engagement.QuestionMaxText,
		StoreTimeout:  cfg.Engagement.StoreTimeout,
	}, logger, m)
	coord := coordinator.New(store, pollEngine, questionEngine, router, archiver, coordinator.Config{
		StoreTimeout: cfg.Engagement.StoreTimeout,
	}, logger, m)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	origins := middleware.NewOriginPolicy(cfg.Server.CORSAllowedOrigins)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(origins))
	engine.Use(middleware.Logger(logger))

	engine.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	// Session-scoped API (JWT required)
	sessionGroup := engine.Group("/sessions/:code")
	sessionGroup.Use(middleware.JWT(jwtService))
	coordinator.NewHandler(coord).Register(sessionGroup)
	polls.NewHandler(coord).Register(sessionGroup)
	questions.NewHandler(coord).Register(sessionGroup)

	// WebSocket (session code and token in query; no Authorization header required)
	engine.GET("/ws", realtime.ServeWs(coord, router, jwtService.Resolve, origins.CheckOrigin, cfg.Engagement.ClientSendBuffer, logger, m))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("directory", cfg.Engagement.DirectoryDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// seedSessions creates configured sessions; codes that already exist are kept.
func seedSessions(ctx context.Context, store directoryStore, seeds []config.SeedSession, logger *zap.Logger) {
	for _, seed := range seeds {
		err := store.CreateSession(ctx, &models.Session{
			Code:      seed.Code,
			Title:     seed.Title,
			TeacherID: seed.TeacherID,
			IsActive:  true,
		})
		switch {
		case err == nil:
			logger.Info("session seeded", zap.String("session_code", seed.Code), zap.String("teacher_id", seed.TeacherID))
		case apperror.Is(err, apperror.ErrConflict):
			logger.Debug("seed session exists", zap.String("session_code", seed.Code))
		default:
			logger.Fatal("seed session", zap.String("session_code", seed.Code), zap.Error(err))
		}
	}
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
