package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/project-tktt/immo-crawler/internal/app"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/config"
	"github.com/project-tktt/immo-crawler/internal/module/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Log.Level, cfg.Log.Format)
	log.Info("starting run worker", map[string]interface{}{"concurrency": cfg.Worker.Concurrency})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer a.Close()

	if a.Consumer == nil {
		log.Error("redis connection failed, nothing to consume", map[string]interface{}{"addr": cfg.Redis.Addr})
		a.Close()
		os.Exit(1)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Start worker pool (queue -> orchestrator -> storage)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := worker.NewWorker(a.Consumer, a.Orchestrator, worker.Config{
			Concurrency: cfg.Worker.Concurrency,
		}, log)
		if err := w.Run(ctx); err != nil {
			log.Error("worker error", map[string]interface{}{"error": err.Error()})
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		log.Info("shutdown signal received, stopping", nil)
	case <-ctx.Done():
	}
	cancel()

	// Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown complete", nil)
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timeout, forcing exit", nil)
	}
}
