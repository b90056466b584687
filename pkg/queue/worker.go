package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WorkerStatus is the current state of a worker goroutine.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// SessionRegistry is the subset of WorkerPool a Worker needs for cancellation support.
type SessionRegistry interface {
	RegisterSession(id string, cancel context.CancelFunc)
	UnregisterSession(id string)
}

// itemClaimer is the subset of WorkerPool a Worker needs to pull and release work.
type itemClaimer interface {
	claimNext() (Item, error)
	release(folder string)
}

// Worker repeatedly claims the next available workspace item and runs it through the
// Executor, retrying transient failures per retryPolicy before giving up.
type Worker struct {
	id          string
	pool        itemClaimer
	registry    SessionRegistry
	executor    Executor
	newRetry    func() backoff.BackOff

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.RWMutex
	status           WorkerStatus
	currentWorkspace string
	itemsProcessed   int
	lastActivity     time.Time
}

// NewWorker creates a worker bound to pool for claiming work and registry for
// cancellation support (the pool itself satisfies both interfaces).
func NewWorker(id string, pool interface {
	itemClaimer
	SessionRegistry
}, executor Executor, newRetry func() backoff.BackOff) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		registry:     pool,
		executor:     executor,
		newRetry:     newRetry,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker's poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its current item and waits for it to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current state for the pool's health summary.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           string(w.status),
		CurrentWorkspace: w.currentWorkspace,
		ItemsProcessed:   w.itemsProcessed,
		LastActivity:     w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
		}

		item, err := w.pool.claimNext()
		if err != nil {
			if errors.Is(err, ErrNoItemsAvailable) {
				return
			}
			log.Error("error claiming item", "error", err)
			continue
		}

		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item Item) {
	log := slog.With("worker_id", w.id, "workspace", item.WorkspaceFolder)
	log.Info("item claimed")

	w.setStatus(WorkerStatusWorking, item.WorkspaceFolder)
	defer w.setStatus(WorkerStatusIdle, "")
	defer w.pool.release(item.WorkspaceFolder)

	itemCtx, cancel := context.WithCancel(ctx)
	sessionKey := item.WorkspaceFolder
	w.registry.RegisterSession(sessionKey, cancel)
	defer cancel()
	defer w.registry.UnregisterSession(sessionKey)

	result := w.executeWithRetry(itemCtx, item)

	w.mu.Lock()
	w.itemsProcessed++
	w.mu.Unlock()

	log.Info("item processing complete", "status", result.Status)
}

// executeWithRetry runs the executor, retrying failed (not timed-out or cancelled)
// attempts per the pool's backoff policy.
func (w *Worker) executeWithRetry(ctx context.Context, item Item) *ExecutionResult {
	var result *ExecutionResult

	op := func() error {
		result = w.executor.Execute(ctx, item)
		if result == nil {
			return fmt.Errorf("executor returned nil result")
		}
		if result.Status == "failed" {
			return result.Error
		}
		return nil
	}

	retry := backoff.WithContext(w.newRetry(), ctx)
	if err := backoff.Retry(op, retry); err != nil && result == nil {
		result = &ExecutionResult{Status: "failed", Error: err}
	}
	return result
}

func (w *Worker) setStatus(status WorkerStatus, workspace string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentWorkspace = workspace
	w.lastActivity = time.Now()
}
