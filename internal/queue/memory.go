package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

const (
	defaultWorkers    = 4
	defaultBufferSize = 1000
)

// MemoryQueue is an in-process queue: a buffered channel drained by a fixed
// pool of workers. Enqueue never blocks; a full buffer rejects the task.
// Tasks still buffered when Run is cancelled are processed before it
// returns. Nothing survives a restart.
type MemoryQueue struct {
	tasks   chan *Task
	workers int
	log     logger.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	running atomic.Bool
}

// MemoryConfig sizes a MemoryQueue. Zero values take the defaults.
type MemoryConfig struct {
	Workers    int
	BufferSize int
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(cfg MemoryConfig, log logger.Logger, m *metrics.Metrics) *MemoryQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &MemoryQueue{
		tasks:   make(chan *Task, cfg.BufferSize),
		workers: cfg.Workers,
		log:     log.Module("queue"),
		metrics: m,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) error {
	stamp(task)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return queueError(ErrQueueClosed, task.Type)
	}
	select {
	case q.tasks <- task:
		q.metrics.SetQueueDepth(len(q.tasks))
		return nil
	default:
		return queueError(ErrQueueFull, task.Type)
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// buffered task has been handled. Handlers receive a context that is not
// cancelled with ctx, so drained tasks can still reach the database.
func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	if !q.running.CompareAndSwap(false, true) {
		return queueError(errAlreadyRunning, "")
	}

	taskCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for range q.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range q.tasks {
				q.metrics.SetQueueDepth(len(q.tasks))
				execute(taskCtx, handler, task, q.log, q.metrics)
			}
		}()
	}
	q.log.Info("queue workers started", logger.Int("workers", q.workers))

	<-ctx.Done()
	_ = q.Close()
	wg.Wait()
	q.log.Info("queue workers stopped")
	return nil
}

// Close stops accepting tasks. Safe to call multiple times.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}

// Len reports the number of buffered tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
