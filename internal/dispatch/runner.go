package dispatch

import (
	"sync"

	"github.com/rs/zerolog"
)

// runner serializes all callbacks of one strategy instance on a single
// goroutine. Nothing inside a strategy needs locking because no two of
// its callbacks ever run concurrently.
//
// The queue is unbounded: a task running on the runner may enqueue
// follow-up work for the same runner (a fill report that triggers the
// next order), so Enqueue must never block the runner on itself.
type runner struct {
	name    string
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     zerolog.Logger

	mu    sync.Mutex
	tasks []func()
}

func newRunner(name string, log zerolog.Logger) *runner {
	return &runner{
		name:    name,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log.With().Str("component", "runner").Str("strategy", name).Logger(),
	}
}

// Run executes tasks until Stop is called. Pending tasks at stop time are
// drained so position updates already routed are never lost.
func (r *runner) Run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

// Enqueue hands a task to the strategy goroutine. It never blocks and
// reports false when the runner is stopping.
func (r *runner) Enqueue(task func()) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// drain runs queued tasks in FIFO order until the queue is empty,
// including tasks enqueued by the tasks themselves.
func (r *runner) drain() {
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return
		}
		task := r.tasks[0]
		r.tasks[0] = nil
		r.tasks = r.tasks[1:]
		if len(r.tasks) == 0 {
			r.tasks = nil
		}
		r.mu.Unlock()
		r.exec(task)
	}
}

// Stop shuts the runner down and waits for the drain to finish.
func (r *runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.stopped
}

// exec isolates a panicking strategy callback: the instance keeps running
// and the panic is logged instead of taking the engine down.
func (r *runner) exec(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("Strategy callback panicked")
		}
	}()
	task()
}
