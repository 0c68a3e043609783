package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// workQueue is the in-process scheduler shared by both backends. Items
// are kept in enqueue order; Drain runs them one at a time, each in its
// own transaction scope, so a handler that re-schedules more work keeps
// per-step cost bounded.
//
// Delays are recorded but not slept on: work runs when the owner drains
// the queue. A production host would hand items to a real scheduler.
type workQueue struct {
	mu       sync.Mutex
	store    Store
	items    []workItem
	handlers map[string]WorkFunc
}

type workItem struct {
	due  time.Time
	ref  string
	args Document
}

func newWorkQueue() *workQueue {
	return &workQueue{handlers: make(map[string]WorkFunc)}
}

func (q *workQueue) bind(store Store) {
	q.mu.Lock()
	q.store = store
	q.mu.Unlock()
}

func (q *workQueue) register(ref string, fn WorkFunc) {
	q.mu.Lock()
	q.handlers[ref] = fn
	q.mu.Unlock()
}

// RunAfter implements Scheduler.
func (q *workQueue) RunAfter(ctx context.Context, delay time.Duration, ref string, args Document) error {
	q.mu.Lock()
	q.items = append(q.items, workItem{due: time.Now().Add(delay), ref: ref, args: args})
	q.mu.Unlock()
	return nil
}

// Pending reports the number of queued work items.
func (q *workQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain runs queued work until the queue is empty or the context is
// cancelled. Work scheduled by running items is drained too.
func (q *workQueue) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		item := q.items[0]
		q.items = q.items[1:]
		handler := q.handlers[item.ref]
		store := q.store
		q.mu.Unlock()

		if handler == nil {
			return fmt.Errorf("docstore: no work handler registered for %q", item.ref)
		}
		if err := handler(ctx, store, item.args); err != nil {
			return fmt.Errorf("docstore: work %q failed: %w", item.ref, err)
		}
	}
}
