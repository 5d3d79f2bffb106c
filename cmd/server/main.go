// Package main runs the live polling HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classpoll/backend/config"
	"github.com/classpoll/backend/internal/auth"
	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/internal/realtime"
	"github.com/classpoll/backend/internal/router"
	"github.com/classpoll/backend/internal/session"
	"github.com/classpoll/backend/pkg/database"
	"github.com/classpoll/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	db, err := database.OpenGorm(pool)
	if err != nil {
		logger.Fatal("gorm", zap.Error(err))
	}
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	logger.Info("PostgreSQL connected and models synced")

	// Optional Redis mirror of classroom events
	var mirror realtime.Mirror
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis mirror disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			mirror = realtime.NewRedisMirror(rdb.Client, logger)
		}
	}
	hub := realtime.NewHub(logger, mirror)
	defer hub.Close()

	// Teachers
	teacherRepo := auth.NewRepository(db)
	authHandler := auth.NewHandler(teacherRepo, logger)

	// Polls
	pollRepo := polls.NewRepository(db)
	pollService := polls.NewService(pollRepo, teacherRepo, logger)
	pollHandler := polls.NewHandler(pollService, logger)

	// Live sessions
	coordinator := session.NewCoordinator(pollService, hub, logger, session.Options{
		StoreTimeout: cfg.Session.StoreTimeout,
		EnforceTimer: cfg.Session.EnforceTimer,
	})
	sessionHandler := session.NewHandler(coordinator, logger)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	go func() {
		if err := coordinator.Run(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session coordinator", zap.Error(err))
		}
	}()

	engine := router.New(router.Deps{
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Auth:        authHandler,
		Polls:       pollHandler,
		Sessions:    sessionHandler,
		Hub:         hub,
		Coordinator: coordinator,
		SendBuffer:  cfg.Session.SendBuffer,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
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
	sessionCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
