package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/project-tktt/immo-crawler/internal/api"
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
	log.Info("starting ingestion service", map[string]interface{}{
		"environment": cfg.App.Environment,
		"storage":     cfg.Storage.Driver,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer a.Close()

	server := api.NewServer(api.Config{
		Addr:   cfg.App.HTTPAddr,
		Runs:   a.Orchestrator,
		Sites:  a.Registry,
		Store:  a.Store,
		Logger: log,
		Pprof:  cfg.App.Environment == "development",
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil {
			log.Error("api server stopped", map[string]interface{}{"error": err.Error()})
			cancel()
		}
	}()

	// Queued runs go through the same orchestrator as API runs
	if a.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := worker.NewWorker(a.Consumer, a.Orchestrator, worker.Config{
				Concurrency: cfg.Worker.Concurrency,
			}, log)
			if err := w.Run(ctx); err != nil {
				log.Error("worker stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	} else {
		log.Warn("run queue disabled", nil)
	}

	// Wait for shutdown signal
	select {
	case <-sigChan:
		log.Info("shutdown signal received, stopping", nil)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", map[string]interface{}{"error": err.Error()})
	}

	// Background runs are detached from ctx; stop them per user
	if n := a.Orchestrator.StopAll(); n > 0 {
		log.Info("stopped running runs", map[string]interface{}{"count": n})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		a.Orchestrator.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown complete", nil)
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout, forcing exit", nil)
	}
}
