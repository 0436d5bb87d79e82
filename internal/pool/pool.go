package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/metrics"
)

// Task is one independent orchestration, such as a single chunk of a large
// bulk load.
type Task struct {
	Index int
	Name  string
	Run   func(ctx context.Context) error
}

// Result reports how a Task ended.
type Result struct {
	Index   int
	Name    string
	Err     error
	Elapsed time.Duration
}

// WorkerPool manages a fixed-size pool of goroutines that run tasks.
type WorkerPool struct {
	size    int
	tasks   <-chan *Task
	results chan<- Result
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool. Every task taken from
// tasks produces exactly one Result on results.
func NewWorkerPool(size int, tasks <-chan *Task, results chan<- Result, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		tasks:   tasks,
		results: results,
		logger:  logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current tasks and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case task, ok := <-p.tasks:
			if !ok {
				p.logger.Debug("Task channel closed", zap.Int("worker_id", id))
				return
			}

			p.logger.Debug("Worker running task",
				zap.Int("worker_id", id),
				zap.Int("index", task.Index),
				zap.String("name", task.Name),
			)

			metrics.WorkersActive.Inc()
			start := time.Now()
			err := p.run(ctx, id, task)
			elapsed := time.Since(start)
			metrics.WorkersActive.Dec()

			if err != nil {
				p.logger.Error("Task failed",
					zap.Int("worker_id", id),
					zap.Int("index", task.Index),
					zap.String("name", task.Name),
					zap.Error(err),
				)
			}
			p.results <- Result{Index: task.Index, Name: task.Name, Err: err, Elapsed: elapsed}
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, id int, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.Int("index", task.Index),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("pool: task %d panicked: %v", task.Index, r)
		}
	}()
	return task.Run(ctx)
}

// RunAll runs tasks on a pool of size workers and returns their results in
// task order. Tasks never started because ctx ended report ctx.Err().
func RunAll(ctx context.Context, size int, tasks []*Task, logger *zap.Logger) []Result {
	queue := make(chan *Task, len(tasks))
	out := make(chan Result, len(tasks))
	for i, t := range tasks {
		t.Index = i
		queue <- t
	}
	close(queue)

	wp := NewWorkerPool(size, queue, out, logger)
	wp.Start(ctx)
	wp.Stop()
	close(out)

	results := make([]Result, len(tasks))
	seen := make([]bool, len(tasks))
	for r := range out {
		results[r.Index] = r
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("pool: task %d was not run", i)
			}
			results[i] = Result{Index: i, Name: tasks[i].Name, Err: err}
		}
	}
	return results
}
