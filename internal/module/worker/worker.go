package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// Source yields queued run requests
type Source interface {
	Run(ctx context.Context, handler func(context.Context, *domain.RunRequest) error) error
}

// Executor executes one run to completion
type Executor interface {
	RunSync(ctx context.Context, req domain.RunRequest) (domain.RunStatus, error)
}

// Worker executes queued run requests
type Worker struct {
	source   Source
	executor Executor
	log      logger.Logger

	concurrency int
}

// Config holds worker configuration
type Config struct {
	Concurrency int
}

// NewWorker creates a new worker
func NewWorker(source Source, executor Executor, cfg Config, log logger.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	return &Worker{
		source:      source,
		executor:    executor,
		log:         logger.OrNop(log).WithFields(map[string]interface{}{"component": "worker"}),
		concurrency: cfg.Concurrency,
	}
}

// Run starts the worker pool. It returns nil on cancellation and the first
// consumer error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("starting worker pool", map[string]interface{}{"workers": w.concurrency})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := w.runSingle(ctx, workerID); err != nil {
				errChan <- fmt.Errorf("worker %d: %w", workerID, err)
			}
		}(i)
	}

	// Wait for all workers or context cancellation
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
		return nil
	case err := <-errChan:
		cancel()
		<-done
		return err
	case <-done:
		return nil
	}
}

func (w *Worker) runSingle(ctx context.Context, workerID int) error {
	log := w.log.WithFields(map[string]interface{}{"worker_id": workerID})
	log.Info("worker started", nil)

	err := w.source.Run(ctx, func(ctx context.Context, req *domain.RunRequest) error {
		return w.Handle(ctx, log, req)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker stopping", nil)
	return nil
}

// Handle executes one request; a refused or failed run is returned as error
func (w *Worker) Handle(ctx context.Context, log logger.Logger, req *domain.RunRequest) error {
	log = logger.OrNop(log).WithFields(map[string]interface{}{"run_id": req.ID, "user_id": req.UserID})
	log.Info("processing run request", map[string]interface{}{"query": req.Query, "sources": req.Sources})

	status, err := w.executor.RunSync(ctx, *req)
	if err != nil {
		return fmt.Errorf("run %s: %w", req.ID, err)
	}
	if status.State == domain.RunFailed {
		return fmt.Errorf("run %s failed: %s", status.RunID, status.Message)
	}

	fields := map[string]interface{}{"state": status.State, "message": status.Message}
	if status.Results != nil {
		fields["inserted"] = status.Results.Inserted
		fields["updated"] = status.Results.Updated
	}
	log.Info("run request done", fields)
	return nil
}
