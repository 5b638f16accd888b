// Package main runs the background job worker (session archives to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/engagement/config"
	"github.com/aura-classroom/engagement/internal/directory/postgres"
	"github.com/aura-classroom/engagement/internal/worker"
	"github.com/aura-classroom/engagement/pkg/database"
	"github.com/aura-classroom/engagement/pkg/queue"
	"github.com/aura-classroom/engagement/pkg/redis"
	"github.com/aura-classroom/engagement/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	if cfg.Engagement.DirectoryDriver != config.DriverPostgres {
		logger.Fatal("the archive worker reads the postgres directory", zap.String("driver", cfg.Engagement.DirectoryDriver))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("REDIS_ADDR is required for the archive queue")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ArchiveBucket:   cfg.AWS.ArchiveBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewArchiveProcessor(postgres.New(pool), s3Client, jobQueue, logger, nil)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.String("queue", queue.QueueSessionArchives))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
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
