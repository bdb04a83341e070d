package job

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

func newJob(priority int, scheduledAt time.Time) *Job {
	return &Job{ID: uuid.New(), Priority: priority, ScheduledAt: scheduledAt}
}

func TestQueuePopOrdersByPriorityThenScheduledAt(t *testing.T) {
	q := NewQueue(0)
	now := time.Now()

	low := newJob(1, now)
	highLater := newJob(5, now.Add(200*time.Millisecond))
	highEarlier := newJob(5, now.Add(-time.Minute))

	if err := q.Submit(low); err != nil {
		t.Fatalf("Submit(low) = %v", err)
	}
	if err := q.Submit(highLater); err != nil {
		t.Fatalf("Submit(highLater) = %v", err)
	}
	if err := q.Submit(highEarlier); err != nil {
		t.Fatalf("Submit(highEarlier) = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if first.ID != highEarlier.ID {
		t.Fatalf("Pop() = %s, want highEarlier %s (priority+scheduledAt ordering)", first.ID, highEarlier.ID)
	}

	second, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if second.ID != low.ID {
		t.Fatalf("Pop() = %s, want low %s (ready jobs are not blocked by a future-dated one)", second.ID, low.ID)
	}

	third, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if third.ID != highLater.ID {
		t.Fatalf("Pop() = %s, want highLater %s once its ScheduledAt passes", third.ID, highLater.ID)
	}
}

func TestQueueSubmitRejectsAtSoftCapUnlessHealthPriority(t *testing.T) {
	q := NewQueue(2)
	now := time.Now()

	if err := q.Submit(newJob(1, now)); err != nil {
		t.Fatalf("Submit #1 = %v", err)
	}
	if err := q.Submit(newJob(1, now)); err != nil {
		t.Fatalf("Submit #2 = %v", err)
	}

	err := q.Submit(newJob(1, now))
	if err == nil {
		t.Fatal("Submit at soft cap = nil error, want QueueSaturated")
	}
	if errs.CodeOf(err) != errs.CodeQueueSaturated {
		t.Fatalf("CodeOf(err) = %v, want CodeQueueSaturated", errs.CodeOf(err))
	}

	healthJob := newJob(HealthCheckPriority, now)
	if err := q.Submit(healthJob); err != nil {
		t.Fatalf("Submit(health job) at soft cap = %v, want nil (priority-%d jobs are always admitted)", err, HealthCheckPriority)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if first.ID != healthJob.ID {
		t.Fatalf("Pop() = %s, want health job %s to pop first", first.ID, healthJob.ID)
	}
}

func TestQueuePopBlocksUntilScheduled(t *testing.T) {
	q := NewQueue(0)
	future := newJob(1, time.Now().Add(150*time.Millisecond))
	if err := q.Submit(future); err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got.ID != future.ID {
		t.Fatalf("Pop() = %s, want %s", got.ID, future.ID)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("Pop() returned after %v, want it to wait for ScheduledAt", elapsed)
	}
}

func TestQueuePopCancelledByContext(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Pop() error = nil, want context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after context cancellation")
	}
}

func TestQueueLenReflectsDepth(t *testing.T) {
	q := NewQueue(0)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	now := time.Now()
	q.Submit(newJob(1, now))
	q.Submit(newJob(2, now))
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Pop(ctx)
	if q.Len() != 1 {
		t.Fatalf("Len() after Pop = %d, want 1", q.Len())
	}
}
