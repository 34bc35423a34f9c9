package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/internal/service/extraction"
	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	svc, cleanup, err := extraction.GetService(log)
	if err != nil {
		log.Error("Failed to initialize service", logger.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	redisCfg := config.GetRedisConfig()
	jobWorker := worker.NewJobWorker(&worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   2,
		Queues:        map[string]int{"default": 1},
	}, svc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	jobWorker.Stop()
	log.Info("Worker stopped")
}
