// Package pool runs independent tasks on a bounded set of workers.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Task is one unit of work. Name identifies its result.
type Task[R any] struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (R, error)
}

// Result is the outcome of a Task.
type Result[R any] struct {
	Name     string
	Value    R
	Duration time.Duration
	Err      error
}

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	// NumWorkers is the number of concurrent workers.
	// Default: min(runtime.NumCPU(), 4)
	NumWorkers int

	// TaskQueueSize is the size of the task queue buffer.
	// Default: 50
	TaskQueueSize int

	// DefaultTaskTimeout applies to tasks without their own timeout.
	// Zero means no timeout.
	DefaultTaskTimeout time.Duration

	Logger *slog.Logger
}

// DefaultWorkerPoolConfig returns a worker pool configuration with sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	numWorkers := runtime.NumCPU()
	if numWorkers > 4 {
		numWorkers = 4
	}
	return WorkerPoolConfig{
		NumWorkers:    numWorkers,
		TaskQueueSize: 50,
		Logger:        slog.Default().With("component", "worker_pool"),
	}
}

// WorkerPool manages concurrent tasks producing values of type R.
type WorkerPool[R any] struct {
	config    WorkerPoolConfig
	taskQueue chan Task[R]
	results   chan Result[R]
	wg        sync.WaitGroup
	mu        sync.RWMutex
	started   bool
	stopped   bool
	logger    *slog.Logger
}

// NewWorkerPool creates a new worker pool with the given configuration.
func NewWorkerPool[R any](config WorkerPoolConfig) *WorkerPool[R] {
	defaults := DefaultWorkerPoolConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.TaskQueueSize <= 0 {
		config.TaskQueueSize = defaults.TaskQueueSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &WorkerPool[R]{
		config:    config,
		taskQueue: make(chan Task[R], config.TaskQueueSize),
		results:   make(chan Result[R], config.TaskQueueSize),
		logger:    config.Logger,
	}
}

// Start launches the workers.
func (wp *WorkerPool[R]) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}
	if wp.stopped {
		return fmt.Errorf("worker pool already stopped, create a new instance")
	}
	wp.started = true

	for i := 0; i < wp.config.NumWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.logger.Debug("worker pool started",
		"workers", wp.config.NumWorkers,
		"queue_size", wp.config.TaskQueueSize)
	return nil
}

func (wp *WorkerPool[R]) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			result := wp.executeTask(ctx, task)
			select {
			case wp.results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (wp *WorkerPool[R]) executeTask(ctx context.Context, task Task[R]) (result Result[R]) {
	start := time.Now()
	result.Name = task.Name

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = wp.config.DefaultTaskTimeout
	}
	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("task panicked", "task", task.Name, "panic", r)
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
		result.Duration = time.Since(start)
	}()

	result.Value, result.Err = task.Run(taskCtx)
	return result
}

// Submit queues a task without blocking. It fails when the queue is full.
func (wp *WorkerPool[R]) Submit(task Task[R]) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}
	if wp.stopped {
		return fmt.Errorf("worker pool stopped")
	}

	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// RunAll runs every task and returns their results in task order. Tasks
// beyond the queue capacity wait for room instead of failing.
func (wp *WorkerPool[R]) RunAll(ctx context.Context, tasks []Task[R]) []Result[R] {
	results := make([]Result[R], len(tasks))
	index := make(map[string][]int, len(tasks))
	for i, t := range tasks {
		index[t.Name] = append(index[t.Name], i)
		results[i].Name = t.Name
	}

	submitted := make(chan int, 1)
	go func() {
		n := 0
		defer func() { submitted <- n }()
		for _, t := range tasks {
			if !wp.enqueue(ctx, t) {
				return
			}
			n++
		}
	}()

	received := 0
	total := -1
	for total < 0 || received < total {
		select {
		case n := <-submitted:
			total = n
		case r := <-wp.results:
			slots := index[r.Name]
			if len(slots) > 0 {
				results[slots[0]] = r
				index[r.Name] = slots[1:]
			}
			received++
		case <-ctx.Done():
			for name, slots := range index {
				for _, i := range slots {
					results[i].Err = fmt.Errorf("task %s not completed: %w", name, ctx.Err())
				}
			}
			return results
		}
	}

	for name, slots := range index {
		for _, i := range slots {
			results[i].Err = fmt.Errorf("task %s was not submitted", name)
		}
	}
	return results
}

// enqueue blocks until t is queued. The read lock keeps Stop from closing
// the queue mid-send.
func (wp *WorkerPool[R]) enqueue(ctx context.Context, t Task[R]) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.started || wp.stopped {
		return false
	}
	select {
	case wp.taskQueue <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the queue and waits for the workers to finish.
func (wp *WorkerPool[R]) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.taskQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Debug("worker pool stopped")
}
