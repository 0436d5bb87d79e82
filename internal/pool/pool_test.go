package pool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/pool"
)

func newTestPool(t *testing.T, poolSize int) (chan *pool.Task, chan pool.Result, *pool.WorkerPool, context.CancelFunc) {
	t.Helper()

	tasks := make(chan *pool.Task, 16)
	results := make(chan pool.Result, 16)
	ctx, cancel := context.WithCancel(context.Background())
	wp := pool.NewWorkerPool(poolSize, tasks, results, zap.NewNop())
	wp.Start(ctx)

	return tasks, results, wp, cancel
}

// Test: pool runs every task and reports one result each.
func TestPool_RunsTasks(t *testing.T) {
	tasks, results, wp, cancel := newTestPool(t, 2)
	defer cancel()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		tasks <- &pool.Task{Index: i, Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}
	}
	close(tasks)
	wp.Stop()
	close(results)

	count := 0
	for r := range results {
		if r.Err != nil {
			t.Errorf("task %d: unexpected error %v", r.Index, r.Err)
		}
		count++
	}
	if count != 5 || ran.Load() != 5 {
		t.Errorf("expected 5 tasks run, got %d results and %d runs", count, ran.Load())
	}
}

// Test: a panicking task is reported as an error and the worker keeps going.
func TestPool_RecoversPanic(t *testing.T) {
	tasks, results, wp, cancel := newTestPool(t, 1)
	defer cancel()

	tasks <- &pool.Task{Index: 0, Run: func(ctx context.Context) error { panic("boom") }}
	tasks <- &pool.Task{Index: 1, Run: func(ctx context.Context) error { return nil }}
	close(tasks)
	wp.Stop()
	close(results)

	errs := map[int]error{}
	for r := range results {
		errs[r.Index] = r.Err
	}
	if errs[0] == nil {
		t.Error("expected the panic to surface as an error")
	}
	if err, ok := errs[1]; !ok || err != nil {
		t.Errorf("expected task 1 to succeed, got %v (reported %v)", err, ok)
	}
}

// Test: RunAll returns results in task order with bounded concurrency.
func TestRunAll_OrderAndConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	failure := errors.New("chunk rejected")

	tasks := make([]*pool.Task, 6)
	for i := range tasks {
		i := i
		tasks[i] = &pool.Task{Name: "chunk", Run: func(ctx context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			if i == 3 {
				return failure
			}
			return nil
		}}
	}

	results := pool.RunAll(context.Background(), 2, tasks, zap.NewNop())
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if (i == 3) != errors.Is(r.Err, failure) {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

// Test: tasks not started before cancellation report the context error.
func TestRunAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.RunAll(ctx, 2, []*pool.Task{
		{Run: func(ctx context.Context) error { return nil }},
		{Run: func(ctx context.Context) error { return nil }},
	}, zap.NewNop())
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
			t.Errorf("unexpected error %v", r.Err)
		}
	}
}
