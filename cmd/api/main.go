package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"handyhub/internal/api"
	"handyhub/internal/auth"
	"handyhub/internal/config"
	"handyhub/internal/lifecycle"
	"handyhub/internal/matching"
	"handyhub/internal/notify"
	"handyhub/internal/photos"
	"handyhub/internal/ratelimit"
	"handyhub/internal/realtime"
	"handyhub/internal/store"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Error("migrations", "err", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := realtime.NewHub(log)
	gateway := realtime.NewGateway(hub, verifier, st, cfg.HeartbeatInterval, cfg.WriteTimeout, log)

	notifier := notify.NewDispatcher(notify.NewQueue(redisClient, cfg.NotifyQueueKey), log)
	machine := lifecycle.New(st, gateway, notifier, log)
	match := matching.New(st, log)
	limiter := ratelimit.NewActorBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	photoSvc, err := photos.NewService(ctx, cfg, st, log)
	if err != nil {
		log.Error("photo storage", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, st, machine, match, photoSvc, gateway, verifier, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
