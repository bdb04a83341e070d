package job

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// heapItem is the container/heap element wrapping a *Job.
type heapItem struct {
	job   *Job
	index int
}

// priorityHeap orders items by priority DESC, then scheduledAt ASC, so the
// queue pops the highest-priority, earliest-scheduled ready job.
type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].job.ScheduledAt.Before(h[j].job.ScheduledAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a mutex-guarded, container/heap-backed priority queue of Jobs;
// ready jobs are popped in priority order instead of FIFO.
type Queue struct {
	mu      sync.Mutex
	items   priorityHeap
	softCap int
	wake    chan struct{}
}

// NewQueue constructs a Queue with the given soft capacity (0 defaults to
// 500).
func NewQueue(softCap int) *Queue {
	if softCap <= 0 {
		softCap = 500
	}
	return &Queue{softCap: softCap, wake: make(chan struct{}, 1)}
}

// Submit enqueues j, rejecting it with QueueSaturated if the queue has
// reached its soft cap and j is not a priority-10 health-check job, which
// is always admitted.
func (q *Queue) Submit(j *Job) error {
	q.mu.Lock()
	if len(q.items) >= q.softCap && j.Priority != HealthCheckPriority {
		depth := len(q.items)
		q.mu.Unlock()
		return errs.Newf(errs.CodeQueueSaturated, "job queue at soft cap (%d/%d); only priority-%d jobs are accepted", depth, q.softCap, HealthCheckPriority)
	}
	heap.Push(&q.items, &heapItem{job: j})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a ready job (ScheduledAt <= now) is available or ctx is
// cancelled, and returns the highest-priority, earliest-scheduled of the
// ready jobs. Jobs scheduled for the future remain queued and do not block
// ready jobs behind them.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			now := time.Now()
			best, wait := -1, q.items[0].job.ScheduledAt.Sub(now)
			for i, it := range q.items {
				d := it.job.ScheduledAt.Sub(now)
				if d > 0 && d < wait {
					wait = d
				}
				if d <= 0 && (best < 0 || q.items.Less(i, best)) {
					best = i
				}
			}
			if best >= 0 {
				item := heap.Remove(&q.items, best).(*heapItem)
				q.mu.Unlock()
				return item.job, nil
			}
			q.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
				continue
			case <-q.wake:
				timer.Stop()
				continue
			}
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
			continue
		}
	}
}

// Len reports the current queue depth, for metrics and admin introspection.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
