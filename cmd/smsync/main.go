package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"smsync/internal/api"
	"smsync/internal/config"
	"smsync/internal/ingest"
	"smsync/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	messages, err := store.NewPostgresStore(ctx, pool)
	if err != nil {
		log.Fatalf("init message store: %v", err)
	}
	profiles, err := store.NewPostgresProfileStore(ctx, pool)
	if err != nil {
		log.Fatalf("init profile store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	consumer, err := ingest.NewConsumer(rdb, messages, ingest.Config{
		Stream:            cfg.Stream.Name,
		Group:             cfg.Stream.Group,
		Consumer:          cfg.Stream.Consumer,
		BatchSize:         cfg.Stream.BatchSize,
		Block:             cfg.Stream.Block,
		PendingEvery:      cfg.Stream.PendingRetry,
		PushChannelPrefix: cfg.Redis.PushChannelPrefix,
	})
	if err != nil {
		log.Fatalf("init consumer: %v", err)
	}
	if err := consumer.EnsureGroup(ctx); err != nil {
		log.Fatalf("ensure consumer group: %v", err)
	}
	consumer.Start()

	handler := api.NewHandler(messages, profiles)
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigint
		slog.Info("shutting down")

		// The consumer stops first so nothing new is persisted while the
		// read API drains.
		consumer.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("smsync started",
		"addr", cfg.Server.Address,
		"stream", cfg.Stream.Name,
		"group", cfg.Stream.Group,
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	slog.Info("server stopped")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
