// Package workers runs detached background tasks on a bounded pool.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lockbox/internal/logging"
	"lockbox/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("worker queue full")
	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("worker pool stopped")
)

// Task is one unit of background work. Done, when set, runs after Run
// returns with its error, including when Run panics.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	Done func(err error)
}

// Config sizes the pool.
type Config struct {
	Concurrency int
	QueueSize   int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Pool executes submitted tasks on a fixed number of goroutines.
type Pool struct {
	tasks   chan Task
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New starts a pool. Concurrency and QueueSize default to 1 and 16.
func New(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, cfg.QueueSize),
		logger:  logging.NewComponentLogger(cfg.Logger, "workers"),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	for range cfg.Concurrency {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Debug("worker pool started",
		logging.Int("concurrency", cfg.Concurrency),
		logging.Int("queue_size", cfg.QueueSize),
	)
	return p
}

// Submit queues task without blocking.
func (p *Pool) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("submit %q: nil run function", task.Name)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		p.metrics.SetQueueDepth(len(p.tasks))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Stop refuses new tasks and waits for queued and running tasks to finish.
// When ctx ends first, running tasks are cancelled and Stop waits for them
// to return before reporting ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn("cancelling running tasks", logging.Int("queued", len(p.tasks)))
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.metrics.SetQueueDepth(len(p.tasks))
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	start := time.Now()
	err := p.safeRun(task)
	if err != nil {
		p.logger.Warn("task failed",
			logging.String("task", task.Name),
			logging.Duration("elapsed", time.Since(start)),
			logging.Error(err),
		)
	} else {
		p.logger.Debug("task completed",
			logging.String("task", task.Name),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
	if task.Done != nil {
		task.Done(err)
	}
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", task.Name, r)
		}
	}()
	return task.Run(p.ctx)
}
