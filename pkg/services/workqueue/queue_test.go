package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context, enqueuer TaskEnqueuer) error
}

func newTestTask(name string, touchesSource bool, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask(name, touchesSource),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx, enqueuer)
	}
	return nil
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	executed := false
	task := newTestTask("test-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		executed = true
		return nil
	})

	q.Enqueue(task)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !executed {
		t.Error("task was not executed")
	}

	if q.Progress().Completed != 1 {
		t.Errorf("expected 1 completed, got %d", q.Progress().Completed)
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop())

	expectedErr := errors.New("task failed")
	task := newTestTask("failing-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return expectedErr
	})

	q.Enqueue(task)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}

	if !q.HasFailures() {
		t.Error("expected HasFailures to return true")
	}
}

func TestQueue_SourceTasksSerialized(t *testing.T) {
	q := New(zap.NewNop())

	var running int32
	var maxConcurrent int32
	var mu sync.Mutex

	// Create 3 source-bound tasks that track concurrent execution
	for i := 0; i < 3; i++ {
		task := newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		q.Enqueue(task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	mc := maxConcurrent
	mu.Unlock()

	if mc > 1 {
		t.Errorf("source tasks ran concurrently: max concurrent was %d", mc)
	}
}

func TestQueue_TwoLaneParallelism(t *testing.T) {
	q := New(zap.NewNop())

	var running int32
	var maxConcurrent int32
	var mu sync.Mutex

	started := make(chan struct{})
	proceed := make(chan struct{})

	// Enqueue a source-bound task that waits
	q.Enqueue(newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		current := atomic.AddInt32(&running, 1)
		mu.Lock()
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		started <- struct{}{}
		<-proceed
		atomic.AddInt32(&running, -1)
		return nil
	}))

	// Enqueue a compute task
	q.Enqueue(newTestTask("compute-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		current := atomic.AddInt32(&running, 1)
		mu.Lock()
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		started <- struct{}{}
		<-proceed
		atomic.AddInt32(&running, -1)
		return nil
	}))

	// Wait for both tasks to start (they should run in parallel)
	<-started
	<-started

	mu.Lock()
	mc := maxConcurrent
	mu.Unlock()

	if mc != 2 {
		t.Errorf("expected source and compute tasks to run in parallel, but max concurrent was %d", mc)
	}

	close(proceed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_TaskEnqueuesMoreTasks(t *testing.T) {
	q := New(zap.NewNop())

	var executed []string
	var mu sync.Mutex

	// First task enqueues a second task
	task1 := newTestTask("task-1", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		mu.Lock()
		executed = append(executed, "task-1")
		mu.Unlock()

		enqueuer.Enqueue(newTestTask("task-2", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			mu.Lock()
			executed = append(executed, "task-2")
			mu.Unlock()
			return nil
		}))
		return nil
	})

	q.Enqueue(task1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(executed) != 2 {
		t.Errorf("expected 2 tasks executed, got %d", len(executed))
	}
	if !contains(executed, "task-1") || !contains(executed, "task-2") {
		t.Errorf("expected task-1 and task-2, got %v", executed)
	}
}

func TestQueue_Cancel(t *testing.T) {
	q := New(zap.NewNop())

	// Use a source task to block other source tasks
	started := make(chan struct{})
	task := newTestTask("slow-source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	q.Enqueue(task)
	<-started

	// Enqueue another source task - it must wait since source work is serialized
	q.Enqueue(newTestTask("pending-source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return nil
	}))

	time.Sleep(10 * time.Millisecond)

	q.Cancel()

	// The pending source task should be marked as cancelled (it never started)
	tasks := q.GetTasks()
	for _, ts := range tasks {
		if ts.Name == "pending-source-task" && ts.Status != TaskStatusCancelled {
			t.Errorf("expected pending-source-task to be cancelled, got %s", ts.Status)
		}
	}
}

func TestQueue_ContextCancellation(t *testing.T) {
	q := New(zap.NewNop())

	task := newTestTask("slow-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	})

	q.Enqueue(task)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := q.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestQueue_CancelRunningTasks(t *testing.T) {
	q := New(zap.NewNop())

	taskStarted := make(chan struct{})
	taskCancelled := make(chan struct{})

	// Task that respects context cancellation
	task := newTestTask("cancellable-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(taskStarted)
		select {
		case <-ctx.Done():
			close(taskCancelled)
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	})

	q.Enqueue(task)
	<-taskStarted

	q.Cancel()

	select {
	case <-taskCancelled:
	case <-time.After(1 * time.Second):
		t.Fatal("task did not receive cancellation signal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.Wait(ctx)

	// Task should be marked as cancelled, not failed
	tasks := q.GetTasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != TaskStatusCancelled {
		t.Errorf("expected task status Cancelled, got %s", tasks[0].Status)
	}
}

func TestQueue_NoRetryOnNonTransientError(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		BackoffFactor:  2.0,
	}))

	var attempts int32
	q.Enqueue(newTestTask("workflow-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("plan validation failed")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.Wait(ctx)

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("non-transient error should not retry: got %d attempts", got)
	}
}

func TestQueue_RetriesTransientError(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BackoffFactor:  2.0,
	}))

	var attempts int32
	q.Enqueue(newTestTask("flaky-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestQueue_Progress(t *testing.T) {
	q := New(zap.NewNop())

	blocker := make(chan struct{})
	// Use 1 source task and 1 compute task so they can run in parallel
	q.Enqueue(newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		<-blocker
		return nil
	}))
	q.Enqueue(newTestTask("compute-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		<-blocker
		return nil
	}))

	time.Sleep(50 * time.Millisecond)

	p := q.Progress()
	if p.Total != 2 {
		t.Errorf("expected total 2, got %d", p.Total)
	}
	if p.Running != 2 {
		t.Errorf("expected running 2, got %d", p.Running)
	}
	if p.Percentage() != 0 {
		t.Errorf("expected 0%%, got %d%%", p.Percentage())
	}

	close(blocker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p = q.Progress()
	if p.Completed != 2 {
		t.Errorf("expected completed 2, got %d", p.Completed)
	}
	if p.Percentage() != 100 {
		t.Errorf("expected 100%%, got %d%%", p.Percentage())
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())

	if !q.IsComplete() {
		t.Error("empty queue should be complete")
	}
	if q.TaskCount() != 0 {
		t.Errorf("expected 0 tasks, got %d", q.TaskCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Errorf("expected nil error for empty queue, got %v", err)
	}
}

func TestQueue_GetTasks(t *testing.T) {
	q := New(zap.NewNop())

	q.Enqueue(newTestTask("task-1", false, nil))
	q.Enqueue(newTestTask("task-2", true, nil))

	tasks := q.GetTasks()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	found := false
	for _, ts := range tasks {
		if ts.Name == "task-2" && ts.TouchesSource {
			found = true
		}
	}
	if !found {
		t.Error("expected to find task-2 with TouchesSource=true")
	}
}

func TestQueue_MultipleBatchesWait(t *testing.T) {
	q := New(zap.NewNop())

	executed := make([]string, 0)
	var mu sync.Mutex

	q.Enqueue(newTestTask("batch1-task1", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		mu.Lock()
		executed = append(executed, "batch1-task1")
		mu.Unlock()
		return nil
	}))

	ctx := context.Background()
	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("batch 1 wait failed: %v", err)
	}

	mu.Lock()
	if !contains(executed, "batch1-task1") {
		t.Fatalf("batch 1 task was not executed")
	}
	mu.Unlock()

	// Batch 2: enqueue a slow task to the same queue and wait again. If the
	// done channel from batch 1 were still closed, this Wait would return
	// before the task ran.
	q.Enqueue(newTestTask("batch2-task1", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		executed = append(executed, "batch2-task1")
		mu.Unlock()
		return nil
	}))

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = q.Wait(ctxWithTimeout)
	if err != nil {
		t.Fatalf("batch 2 wait failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(executed) != 2 {
		t.Errorf("expected 2 tasks executed, got %d: %v", len(executed), executed)
	}
	if !contains(executed, "batch2-task1") {
		t.Errorf("batch 2 task was not executed: %v", executed)
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ============================================================================
// Strategy Tests
// ============================================================================

func TestThrottledSourceStrategy_RespectsLimit(t *testing.T) {
	maxConcurrent := 3
	q := New(zap.NewNop(), WithStrategy(NewThrottledSourceStrategy(maxConcurrent)))

	var running int32
	var observedMax int32
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		task := newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > observedMax {
				observedMax = current
			}
			mu.Unlock()

			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		q.Enqueue(task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	om := observedMax
	mu.Unlock()

	if om > int32(maxConcurrent) {
		t.Errorf("ThrottledSourceStrategy exceeded limit: observed max %d, limit was %d", om, maxConcurrent)
	}
	if om < 2 {
		t.Errorf("ThrottledSourceStrategy should allow some concurrency: observed max was %d", om)
	}
}

func TestThrottledSourceStrategy_StillSerializesCompute(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledSourceStrategy(10)))

	var running int32
	var maxConcurrent int32
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		task := newTestTask("compute-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		q.Enqueue(task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	mc := maxConcurrent
	mu.Unlock()

	if mc > 1 {
		t.Errorf("compute tasks should serialize: max concurrent was %d", mc)
	}
}

func TestSerializedStrategy_SerializesSourceTasks(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewSerializedStrategy()))

	var running int32
	var maxConcurrent int32
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		task := newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		q.Enqueue(task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	mc := maxConcurrent
	mu.Unlock()

	if mc > 1 {
		t.Errorf("SerializedStrategy should serialize source tasks: max concurrent was %d", mc)
	}
}

func TestTaskSnapshot(t *testing.T) {
	task := newTestTask("test-task", true, nil)
	ts := NewTaskState(task)

	snapshot := ts.Snapshot()
	if snapshot.ID != task.ID() {
		t.Errorf("expected ID %s, got %s", task.ID(), snapshot.ID)
	}
	if snapshot.Name != "test-task" {
		t.Errorf("expected name 'test-task', got %s", snapshot.Name)
	}
	if !snapshot.TouchesSource {
		t.Error("expected TouchesSource to be true")
	}
	if snapshot.Status != TaskStatusPending {
		t.Errorf("expected status pending, got %s", snapshot.Status)
	}
	if snapshot.StartedAt != nil {
		t.Error("expected StartedAt to be nil")
	}
}

func TestTaskState_SetStatus(t *testing.T) {
	task := newTestTask("test-task", false, nil)
	ts := NewTaskState(task)

	ts.SetStatus(TaskStatusRunning)
	if ts.GetStatus() != TaskStatusRunning {
		t.Errorf("expected running, got %s", ts.GetStatus())
	}

	snapshot := ts.Snapshot()
	if snapshot.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	ts.SetStatus(TaskStatusCompleted)
	snapshot = ts.Snapshot()
	if snapshot.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		expected int
	}{
		{"empty", Progress{Total: 0}, 100},
		{"none complete", Progress{Total: 10, Pending: 10}, 0},
		{"half complete", Progress{Total: 10, Completed: 5, Pending: 5}, 50},
		{"all complete", Progress{Total: 10, Completed: 10}, 100},
		{"mixed terminal states", Progress{Total: 10, Completed: 5, Failed: 3, Cancelled: 2}, 100},
		{"partial with failures", Progress{Total: 10, Completed: 3, Failed: 2, Running: 5}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.progress.Percentage()
			if got != tt.expected {
				t.Errorf("expected %d%%, got %d%%", tt.expected, got)
			}
		})
	}
}
