package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fitpass/internal/config"
	"fitpass/internal/queue"
	"fitpass/internal/rollup"
	"fitpass/internal/store"
)

// Worker consumes check-in messages and keeps per-class attendance rollups
// fresh for the admin dashboard.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, store.CheckInQueueKey)
	} else {
		q = queue.NewInMemory(64)
	}

	repo := rollup.NewRepository(db.Client)

	log.Println("worker started, waiting for check-in messages...")
	if err := rollup.Run(ctx, q, repo); err != nil {
		log.Fatalf("rollup consume failed: %v", err)
	}
	log.Println("worker stopped")
}
