package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPoolProcessesTasks(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[string]bool)

	fn := func(ctx context.Context, task *Task) *Result {
		mu.Lock()
		processed[task.ID] = true
		mu.Unlock()
		return &Result{TaskID: task.ID, Success: true, Data: task.Payload}
	}

	cfg := Config{Workers: 4, QueueSize: 32, MaxRetries: 0, RetryDelay: time.Millisecond, GracefulShutdownTimeout: 5 * time.Second}
	pool, err := New(cfg, fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()

	const n = 20
	for i := 0; i < n; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("task-%d", i), Payload: i}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case res := <-pool.Results():
			if !res.Success {
				t.Errorf("task %s failed: %v", res.TaskID, res.Error)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != n {
		t.Errorf("processed %d tasks, want %d", len(processed), n)
	}

	stats := pool.Stats()
	if stats.TasksSubmitted != n || stats.TasksCompleted != n {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	boom := errors.New("transient")

	fn := func(ctx context.Context, task *Task) *Result {
		mu.Lock()
		attempts++
		mu.Unlock()
		return &Result{TaskID: task.ID, Success: false, Error: boom}
	}

	cfg := Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond, GracefulShutdownTimeout: 5 * time.Second}
	pool, err := New(cfg, fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()

	if err := pool.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-pool.Results():
		if res.Success {
			t.Error("expected failure result")
		}
		if !errors.Is(res.Error, boom) {
			t.Errorf("error = %v, want wrapped %v", res.Error, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 1 initial + 2 retries", attempts)
	}
	if pool.Stats().TasksRetried != 2 {
		t.Errorf("retried = %d, want 2", pool.Stats().TasksRetried)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	fn := func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}
	pool, err := New(DefaultConfig(), fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("expected submit to fail after stop")
	}
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	fn := func(ctx context.Context, task *Task) *Result {
		<-block
		return &Result{TaskID: task.ID, Success: true}
	}

	cfg := Config{Workers: 1, QueueSize: 1, GracefulShutdownTimeout: time.Second}
	pool, err := New(cfg, fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue; one more of
	// the following submits must be rejected once the buffer is exhausted.
	rejected := false
	for i := 0; i < 4; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("t-%d", i)}); err != nil {
			rejected = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !rejected {
		t.Error("expected a rejected submit on a full queue")
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error for nil worker function")
	}
}
