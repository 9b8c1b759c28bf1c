package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrRunnerClosed indicates a task was submitted after shutdown began.
var ErrRunnerClosed = errors.New("task runner closed")

var (
	tasksQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "studygroup",
		Subsystem: "tasks",
		Name:      "queued",
		Help:      "Number of background tasks waiting for a worker.",
	}, []string{"task"})
	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studygroup",
		Subsystem: "tasks",
		Name:      "completed_total",
		Help:      "Background task completions by outcome.",
	}, []string{"task", "outcome"})
)

type task struct {
	name string
	fn   func(context.Context) error
}

// TaskRunner executes pipeline work (detection, linking) off the request
// path. Tasks receive a context detached from the request that spawned them.
type TaskRunner struct {
	queue   chan task
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTaskRunner starts the given number of workers over a bounded queue.
func NewTaskRunner(workers, queueSize int, taskTimeout time.Duration, logger zerolog.Logger) *TaskRunner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}

	r := &TaskRunner{
		queue:   make(chan task, queueSize),
		timeout: taskTimeout,
		logger:  logger.With().Str("component", "task_runner").Logger(),
	}
	for i := 0; i < workers; i++ {
		go r.worker()
	}

	return r
}

// Submit enqueues a task for asynchronous execution. It blocks when the
// queue is full so producers back off instead of dropping work.
func (r *TaskRunner) Submit(name string, fn func(context.Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	tasksQueued.WithLabelValues(name).Inc()
	r.queue <- task{name: name, fn: fn}
	return nil
}

func (r *TaskRunner) worker() {
	for t := range r.queue {
		tasksQueued.WithLabelValues(t.name).Dec()
		r.run(t)
		r.wg.Done()
	}
}

func (r *TaskRunner) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		tasksCompleted.WithLabelValues(t.name, "error").Inc()
		r.logger.Error().Err(err).Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("background task failed")
		return
	}

	tasksCompleted.WithLabelValues(t.name, "ok").Inc()
	r.logger.Debug().Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("background task done")
}

// Wait blocks until every submitted task has finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight work to drain.
func (r *TaskRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	close(r.queue)
}
