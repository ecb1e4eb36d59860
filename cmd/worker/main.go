package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"

	"handyhub/internal/config"
	"handyhub/internal/notify"
)

// The worker binary drains the notification delivery queue. Actual delivery
// channels (push, SMS) are external; the default provider logs.
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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	queue := notify.NewQueue(redisClient, cfg.NotifyQueueKey)
	worker := notify.NewWorker(queue, notify.LogProvider{Log: log}, cfg.NotifyMaxAttempts, cfg.NotifyPollInterval, log)

	log.Info("notification worker started", "queue", cfg.NotifyQueueKey)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
