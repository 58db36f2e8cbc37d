package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool manages a set of run workers plus the lease sweep loop.
type WorkerPool struct {
	podID         string
	processor     *Processor
	workerCount   int
	pollInterval  time.Duration
	sweepInterval time.Duration
	workers       []*Worker
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	started       bool
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(podID string, processor *Processor, workerCount int, pollInterval, sweepInterval time.Duration) *WorkerPool {
	return &WorkerPool{
		podID:         podID,
		processor:     processor,
		workerCount:   workerCount,
		pollInterval:  pollInterval,
		sweepInterval: sweepInterval,
		workers:       make([]*Worker, 0, workerCount),
		stopCh:        make(chan struct{}),
	}
}

// Start spawns worker goroutines and the lease sweep background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.processor, p.pollInterval)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runLeaseSweep(ctx)
	}()
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their in-flight run before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

// runLeaseSweep periodically requeues runs whose worker lease expired.
func (p *WorkerPool) runLeaseSweep(ctx context.Context) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.processor.SweepExpiredLeases(ctx); err != nil {
				slog.Error("Lease sweep failed", "error", err)
			}
		}
	}
}
