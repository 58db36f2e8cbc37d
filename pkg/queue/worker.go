package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is a single run worker that polls for and processes queued runs.
type Worker struct {
	id           string
	processor    *Processor
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewWorker creates a run worker.
func NewWorker(id string, processor *Processor, pollInterval time.Duration) *Worker {
	return &Worker{
		id:           id,
		processor:    processor,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. The
// in-flight run is finished before exiting. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Run worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Run worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, run worker shutting down")
			return
		default:
			result, err := w.processor.RunCycle(ctx, w.id, "", 1)
			if err != nil {
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second)
				continue
			}
			if result.Claimed == 0 {
				w.sleep(w.pollInterval)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}
