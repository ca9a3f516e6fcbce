// Package worker runs the bot's background work on one bounded pool:
// inbound command handling, reminder firings and room join attempts.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	appLog "icalbot/internal/log"
)

// DefaultSize is the pool bound when none is configured.
const DefaultSize = 8

// Submitter accepts named units of work. Submit reports false when the
// work was rejected because the pool is shutting down.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context)) bool
}

// Pool is a bounded goroutine pool. Submit never blocks: work is queued
// in FIFO order and a feeder hands it to the workers as they free up.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool

	p   *pool.ContextPool
	fed chan struct{}
}

type task struct {
	name string
	fn   func(ctx context.Context)
}

// New creates a pool of size workers bound to ctx. Tasks see ctx and
// should stop early when it is cancelled.
func New(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	wp := &Pool{
		p:   pool.New().WithMaxGoroutines(size).WithContext(ctx),
		fed: make(chan struct{}),
	}
	wp.cond = sync.NewCond(&wp.mu)
	go wp.feed()
	return wp
}

// Submit queues fn and returns immediately. A panic inside fn is logged
// and does not take down the pool.
func (wp *Pool) Submit(name string, fn func(ctx context.Context)) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		appLog.Debug("worker: rejected task after close", "task", name)
		return false
	}
	wp.queue = append(wp.queue, task{name: name, fn: fn})
	wp.cond.Signal()
	return true
}

// Queued reports how many tasks are waiting for a free worker.
func (wp *Pool) Queued() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.queue)
}

// feed moves queued tasks into the bounded pool. Only this goroutine
// waits on a free worker slot.
func (wp *Pool) feed() {
	defer close(wp.fed)
	for {
		wp.mu.Lock()
		for len(wp.queue) == 0 && !wp.closed {
			wp.cond.Wait()
		}
		if len(wp.queue) == 0 {
			wp.mu.Unlock()
			return
		}
		t := wp.queue[0]
		wp.queue[0] = task{}
		wp.queue = wp.queue[1:]
		wp.mu.Unlock()

		wp.p.Go(func(ctx context.Context) error {
			defer func() {
				if r := recover(); r != nil {
					appLog.Error("worker: task panicked", fmt.Errorf("%v", r), "task", t.name)
				}
			}()
			t.fn(ctx)
			return nil
		})
	}
}

// Close stops accepting work, lets already queued tasks run and waits for
// them to finish. It is safe to call more than once.
func (wp *Pool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		<-wp.fed
		return
	}
	wp.closed = true
	wp.cond.Broadcast()
	wp.mu.Unlock()

	<-wp.fed
	_ = wp.p.Wait()
}

// Inline runs every task immediately on the caller's goroutine. It is
// meant for tests and one-shot CLI commands.
type Inline struct {
	Ctx context.Context
}

// Submit runs fn synchronously and always reports true.
func (in Inline) Submit(_ string, fn func(ctx context.Context)) bool {
	ctx := in.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	fn(ctx)
	return true
}
