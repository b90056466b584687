package queue

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crypdick/pynchy/pkg/config"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// WorkerPool owns one FIFO queue per workspace folder and a pool of worker goroutines
// that drain them. A workspace's items are always processed in enqueue order and never
// concurrently with each other, but different workspaces run fully in parallel up to
// MaxConcurrent.
type WorkerPool struct {
	cfg      config.QueueConfig
	maxConc  int
	executor Executor

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu        sync.Mutex
	queues    map[string]*list.List // workspace folder -> FIFO of Item
	busy      map[string]bool       // workspace folder currently owned by a worker
	readyCond *sync.Cond

	activeSessions map[string]context.CancelFunc
}

// NewWorkerPool creates a worker pool bound by cfg's retry policy and maxConcurrent
// simultaneous container sessions.
func NewWorkerPool(cfg config.QueueConfig, maxConcurrent int, executor Executor) *WorkerPool {
	p := &WorkerPool{
		cfg:            cfg,
		maxConc:        maxConcurrent,
		executor:       executor,
		stopCh:         make(chan struct{}),
		queues:         make(map[string]*list.List),
		busy:           make(map[string]bool),
		activeSessions: make(map[string]context.CancelFunc),
	}
	p.readyCond = sync.NewCond(&p.mu)
	return p
}

// Enqueue appends item to its workspace's FIFO and wakes one idle worker.
func (p *WorkerPool) Enqueue(item Item) {
	p.mu.Lock()
	q, ok := p.queues[item.WorkspaceFolder]
	if !ok {
		q = list.New()
		p.queues[item.WorkspaceFolder] = q
	}
	q.PushBack(item)
	p.mu.Unlock()
	p.readyCond.Signal()
}

// claimNext blocks until a workspace has a pending item and is not already owned by
// another worker, then returns it with that workspace marked busy. Returns
// ErrNoItemsAvailable if stopCh closes first.
func (p *WorkerPool) claimNext() (Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		select {
		case <-p.stopCh:
			return Item{}, ErrNoItemsAvailable
		default:
		}

		for folder, q := range p.queues {
			if p.busy[folder] || q.Len() == 0 {
				continue
			}
			front := q.Remove(q.Front()).(Item)
			p.busy[folder] = true
			return front, nil
		}

		p.readyCond.Wait()
	}
}

// release marks folder's queue as free for the next claim and wakes waiting workers in
// case another workspace's item became available while this one was busy.
func (p *WorkerPool) release(folder string) {
	p.mu.Lock()
	p.busy[folder] = false
	p.mu.Unlock()
	p.readyCond.Broadcast()
}

// QueueDepth returns the total number of items waiting across every workspace.
func (p *WorkerPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	depth := 0
	for _, q := range p.queues {
		depth += q.Len()
	}
	return depth
}

// Start spawns worker goroutines. Safe to call once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("starting worker pool", "worker_count", p.maxConc)
	for i := 0; i < p.maxConc; i++ {
		w := NewWorker(fmt.Sprintf("worker-%d", i), p, p.executor, p.newRetryPolicy)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// newRetryPolicy builds a fresh backoff.BackOff per item from the queue config's retry
// settings, allowing at most MaxRetries retries after the first attempt. A new instance per item is required since
// backoff.BackOff carries retry-count state that must not leak across items.
func (p *WorkerPool) newRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = secondsToDuration(p.cfg.BaseRetrySeconds)
	return backoff.WithMaxRetries(b, uint64(p.cfg.MaxRetries))
}

// Stop signals all workers to stop after finishing their current item, and waits for them.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	// Close stopCh and wake idle workers first, so a worker waiting in claimNext returns
	// instead of blocking its own Stop.
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stopCh)
		p.mu.Unlock()
	})
	p.readyCond.Broadcast()
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterSession stores a cancel function so CancelSession can interrupt in-flight work.
func (p *WorkerPool) RegisterSession(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[id] = cancel
}

// UnregisterSession removes the cancel function once processing ends.
func (p *WorkerPool) UnregisterSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, id)
}

// CancelSession cancels an in-flight item's context, if it is still running on this pool.
func (p *WorkerPool) CancelSession(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.activeSessions[id]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current worker and queue state.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		ActiveSessions: activeWorkers,
		MaxConcurrent:  p.maxConc,
		QueueDepth:     p.QueueDepth(),
		WorkerStats:    workerStats,
	}
}
